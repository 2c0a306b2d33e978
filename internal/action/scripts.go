package action

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Every action runs as one script: resolve the selector, then act on the
// element in the same task so the document cannot change in between.
// Scripts return {ok:true, ...} or {ok:false, reason, count, index, detail}.

const (
	reasonNotFound        = "not_found"
	reasonNotVisible      = "not_visible"
	reasonNotInteractable = "not_interactable"
	reasonIntercepted     = "intercepted"
	reasonInvalid         = "invalid_selector"
)

// helpersJS is prepended to every script.
const helpersJS = `
const __visible = (el) => {
  if (!el || !el.isConnected) return false;
  const st = window.getComputedStyle(el);
  if (st.display === 'none' || st.visibility === 'hidden') return false;
  const r = el.getBoundingClientRect();
  return r.width > 0 && r.height > 0;
};
const __describe = (el) => {
  if (!el) return '';
  let d = el.tagName.toLowerCase();
  if (el.id) d += '#' + el.id;
  if (typeof el.className === 'string' && el.className.trim()) d += '.' + el.className.trim().split(/\s+/).slice(0, 2).join('.');
  return d;
};
const __pick = (els, at) => {
  const idx = at(els);
  if (idx < 0 || idx >= els.length) return {el: null, count: els.length, index: idx};
  return {el: els[idx], count: els.length, index: idx};
};
`

const textMatchJS = `
const __byText = (needle) => {
  const matches = [];
  if (!document.body) return matches;
  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_ELEMENT, null);
  while (walker.nextNode()) {
    const node = walker.currentNode;
    const st = window.getComputedStyle(node);
    if (st.display === 'none' || st.visibility === 'hidden') continue;
    const direct = Array.from(node.childNodes)
      .filter(n => n.nodeType === Node.TEXT_NODE)
      .map(n => n.textContent.trim())
      .join(' ');
    if (direct.includes(needle)) { matches.push(node); continue; }
    if (node.children.length <= 2 && node.textContent.includes(needle) && node.textContent.trim().length < 200) {
      matches.push(node);
    }
  }
  return matches.filter(el => !matches.some(other => other !== el && el.contains(other)));
};
`

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// nthIndex maps nth in [-count, count-1] to its 0-based position. Negative
// values count from the end, so -1 is the last match.
func nthIndex(count, nth int) (int, bool) {
	idx := nth
	if nth < 0 {
		idx = count + nth
	}
	return idx, idx >= 0 && idx < count
}

// pickIndexJS renders nthIndex as an expression over els.length, the match
// count the browser sees.
func pickIndexJS(nth int) string {
	if nth < 0 {
		return fmt.Sprintf("els.length - %d", -nth)
	}
	return strconv.Itoa(nth)
}

// resolveJS returns a statement block that leaves {el, count, index, invalid}
// in __r for sel.
func resolveJS(sel Selector) string {
	switch s := sel.(type) {
	case CSS:
		return fmt.Sprintf(`let __r;
try { __r = __pick(Array.from(document.querySelectorAll(%s)), (els) => %s); }
catch (e) { __r = {el: null, count: 0, index: %d, invalid: String(e && e.message || e)}; }`,
			jsString(s.Pattern), pickIndexJS(s.Nth), s.Nth)
	case Text:
		return textMatchJS + fmt.Sprintf(`const __r = __pick(__byText(%s), (els) => %s);`, jsString(s.Needle), pickIndexJS(s.Nth))
	case Coordinates:
		return fmt.Sprintf(`const __pt = document.elementFromPoint(%s, %s);
const __r = {el: __pt, count: __pt ? 1 : 0, index: 0};`, jsNumber(s.X), jsNumber(s.Y))
	case Focused:
		return `const __ae = document.activeElement;
const __r = (__ae && __ae !== document.body) ? {el: __ae, count: 1, index: 0} : {el: null, count: 0, index: 0};`
	}
	return `const __r = {el: null, count: 0, index: 0};`
}

// elementScript wraps body so it runs with el bound to the resolved element.
// A missing element returns a not_found outcome before body runs.
func elementScript(sel Selector, body string) string {
	return fmt.Sprintf(`(() => {
%s
%s
if (__r.invalid) return {ok: false, reason: %q, count: 0, index: __r.index, detail: __r.invalid};
if (!__r.el) return {ok: false, reason: %q, count: __r.count, index: __r.index};
const el = __r.el;
%s
})()`, helpersJS, resolveJS(sel), reasonInvalid, reasonNotFound, body)
}

// describeBody reports the element without acting on it.
const describeBody = `
const r = el.getBoundingClientRect();
return {ok: true, count: __r.count, index: __r.index, tag: el.tagName.toLowerCase(), id: el.id || '',
  text: (el.innerText || el.textContent || '').trim().slice(0, 120), visible: __visible(el),
  x: r.left, y: r.top, width: r.width, height: r.height};`

// pointBody scrolls the element into view and returns its center if the
// element itself would receive a click there.
const pointBody = `
el.scrollIntoView({block: 'center', inline: 'center'});
if (!__visible(el)) return {ok: false, reason: 'not_visible', count: __r.count, index: __r.index, detail: __describe(el)};
const r = el.getBoundingClientRect();
const x = r.left + r.width / 2, y = r.top + r.height / 2;
const top = document.elementFromPoint(x, y);
if (top && top !== el && !el.contains(top) && !top.contains(el)) {
  return {ok: false, reason: 'intercepted', count: __r.count, index: __r.index, detail: __describe(top)};
}
return {ok: true, count: __r.count, index: __r.index, tag: el.tagName.toLowerCase(), x: x, y: y};`

// typeBody sets the value through the prototype's native setter so
// framework-controlled inputs observe the change, then reads it back.
func typeBody(text string, appendText bool) string {
	return fmt.Sprintf(`
const text = %s;
const append = %t;
if (!__visible(el)) return {ok: false, reason: 'not_visible', detail: __describe(el)};
if (el.disabled || el.readOnly) return {ok: false, reason: 'not_interactable', detail: __describe(el) + ' is disabled or read-only'};
el.focus();
if (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') {
  const proto = el.tagName === 'INPUT' ? HTMLInputElement.prototype : HTMLTextAreaElement.prototype;
  const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
  const next = append ? (el.value || '') + text : text;
  setter.call(el, next);
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  if (el.value !== next) return {ok: false, reason: 'not_interactable', detail: 'value did not stick'};
  return {ok: true, tag: el.tagName.toLowerCase(), value: el.value};
}
if (el.isContentEditable) {
  if (append) { document.execCommand('insertText', false, text); }
  else { el.textContent = text; el.dispatchEvent(new Event('input', {bubbles: true})); }
  return {ok: true, tag: el.tagName.toLowerCase(), value: el.textContent};
}
return {ok: false, reason: 'not_interactable', detail: __describe(el) + ' does not accept text'};`, jsString(text), appendText)
}

const hoverBody = `
el.scrollIntoView({block: 'center'});
if (!__visible(el)) return {ok: false, reason: 'not_visible', detail: __describe(el)};
const r = el.getBoundingClientRect();
el.dispatchEvent(new MouseEvent('mouseenter', {bubbles: true}));
el.dispatchEvent(new MouseEvent('mouseover', {bubbles: true}));
return {ok: true, tag: el.tagName.toLowerCase(), x: r.left + r.width / 2, y: r.top + r.height / 2};`

const scrollIntoViewBody = `
el.scrollIntoView({block: 'center', inline: 'nearest'});
return {ok: true, tag: el.tagName.toLowerCase()};`

func selectBody(value string, byLabel, byIndex bool) string {
	return fmt.Sprintf(`
const value = %s;
if (el.tagName !== 'SELECT') return {ok: false, reason: 'not_interactable', detail: __describe(el) + ' is not a select'};
let idx = -1;
if (%t) {
  idx = parseInt(value, 10);
  if (isNaN(idx) || idx < 0 || idx >= el.options.length) idx = -1;
} else if (%t) {
  idx = Array.from(el.options).findIndex(o => o.text.trim() === value);
} else {
  idx = Array.from(el.options).findIndex(o => o.value === value);
}
if (idx < 0) return {ok: false, reason: 'not_found', count: el.options.length, detail: 'no option ' + JSON.stringify(value)};
el.selectedIndex = idx;
el.dispatchEvent(new Event('input', {bubbles: true}));
el.dispatchEvent(new Event('change', {bubbles: true}));
return {ok: true, tag: 'select', value: el.value};`, jsString(value), byIndex, byLabel)
}

// conditionScript evaluates a wait condition once.
func conditionScript(c Condition) string {
	switch c.Kind {
	case TextPresent, TextAbsent:
		want := c.Kind == TextPresent
		return fmt.Sprintf(`(() => {
const has = !!(document.body && document.body.innerText.includes(%s));
return {satisfied: has === %t, observed: has ? 'text present' : 'text absent'};
})()`, jsString(c.Text), want)
	}
	check := "true"
	switch c.Kind {
	case ElementPresent:
		check = "!!__r.el"
	case ElementVisible:
		check = "__visible(__r.el)"
	case ElementGone:
		check = "!__r.el"
	}
	return fmt.Sprintf(`(() => {
%s
%s
const vis = __r.el ? __visible(__r.el) : false;
const observed = __r.invalid ? 'invalid selector: ' + __r.invalid :
  (__r.count + ' match(es)' + (__r.el ? (vis ? ', visible' : ', hidden') : ''));
return {satisfied: %s, observed: observed};
})()`, helpersJS, resolveJS(c.Target), check)
}

const readyStateJS = `({state: document.readyState, url: window.location.href})`

// dismissOverlayJS clicks common close controls and hides fixed overlays.
const dismissOverlayJS = `(() => {
const closers = [
  '[aria-label="Close"]', '[aria-label="close"]', '[aria-label="Dismiss"]',
  '.modal .close', '.modal-close', '.close-button', '.btn-close',
  '[data-dismiss="modal"]', '[data-bs-dismiss="modal"]',
  '#onetrust-accept-btn-handler', '.cookie-accept', '[id*="cookie"] button', '[class*="cookie"] button'
];
let actions = 0;
for (const sel of closers) {
  let el = null;
  try { el = document.querySelector(sel); } catch (e) { continue; }
  if (el && el.offsetParent !== null) { el.click(); actions++; }
}
const overlays = document.querySelectorAll('[class*="overlay"], [class*="modal"], [class*="backdrop"], [class*="cookie"], [class*="popup"]');
for (const el of overlays) {
  const st = window.getComputedStyle(el);
  if ((st.position === 'fixed' || st.position === 'absolute') && st.display !== 'none' && parseInt(st.zIndex || '0', 10) > 0) {
    el.style.display = 'none';
    actions++;
  }
}
return actions;
})()`

// domSnapshotJS is used to detect when the document stops changing.
const domSnapshotJS = `(() => {
if (!document.body) return '';
const s = document.body.outerHTML;
let h = 0;
for (let i = 0; i < s.length; i++) h = (h * 31 + s.charCodeAt(i)) | 0;
return s.length + ':' + h;
})()`
