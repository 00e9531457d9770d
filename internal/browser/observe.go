package browser

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/browser/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// observeScript tags every reportable element with a ref and returns the
// page as JSON. Refs carry a per-document token so a ref taken before a
// navigation can never address a node of the next document.
const observeScript = `(() => {
  const ATTR = %q;
  if (!window.__sdDoc) {
    window.__sdDoc = Math.random().toString(36).slice(2, 8);
    window.__sdSeq = 0;
  }
  const clean = s => (s || "").replace(/\s+/g, " ").trim();
  const landmark = { FORM: "form", HEADER: "header", FOOTER: "footer", NAV: "navigation", ASIDE: "sidebar", MAIN: "main", DIALOG: "dialog", SECTION: "section" };
  const roleWord = { dialog: "dialog", alertdialog: "dialog", navigation: "navigation", banner: "header", contentinfo: "footer", form: "form", region: "region" };
  const hidden = el => {
    for (let cur = el; cur && cur.nodeType === 1; cur = cur.parentElement) {
      if (cur.hidden || cur.getAttribute("aria-hidden") === "true") return true;
      const st = getComputedStyle(cur);
      if (st.display === "none" || st.visibility === "hidden") return true;
    }
    if (el.tagName === "INPUT" && el.type === "hidden") return true;
    const r = el.getBoundingClientRect();
    return r.width === 0 && r.height === 0 && el.tagName !== "OPTION";
  };
  const role = el => {
    const explicit = clean(el.getAttribute("role")).split(" ")[0];
    if (explicit) return explicit.toLowerCase();
    const t = el.tagName;
    if (t === "A" && el.hasAttribute("href")) return "link";
    if (t === "BUTTON" || t === "SUMMARY") return "button";
    if (t === "INPUT") {
      const ty = (el.getAttribute("type") || "text").toLowerCase();
      if (["button", "submit", "reset", "image"].includes(ty)) return "button";
      if (ty === "checkbox" || ty === "radio") return ty;
      if (ty === "range") return "slider";
      if (["hidden", "file", "color", "date", "datetime-local", "month", "time", "week"].includes(ty)) return "";
      return "textbox";
    }
    if (t === "TEXTAREA" || el.isContentEditable) return "textbox";
    if (t === "SELECT") return "combobox";
    if (/^H[1-6]$/.test(t)) return "heading";
    const implicit = { IMG: "img", HEADER: "banner", FOOTER: "contentinfo", NAV: "navigation", MAIN: "main", ASIDE: "complementary", FORM: "form", DIALOG: "dialog", LI: "listitem" };
    return implicit[t] || "";
  };
  const labelText = el => {
    if (el.labels && el.labels.length) {
      return clean(Array.from(el.labels).map(l => {
        const copy = l.cloneNode(true);
        copy.querySelectorAll("input,select,textarea").forEach(c => c.remove());
        return copy.innerText || copy.textContent;
      }).join(" "));
    }
    return "";
  };
  const name = (el, r) => {
    const aria = clean(el.getAttribute("aria-label"));
    if (aria) return aria;
    const by = clean(el.getAttribute("aria-labelledby"));
    if (by) {
      const txt = clean(by.split(" ").map(id => { const n = document.getElementById(id); return n ? n.textContent : ""; }).join(" "));
      if (txt) return txt;
    }
    const t = el.tagName;
    if (t === "INPUT" || t === "SELECT" || t === "TEXTAREA") {
      const ty = (el.getAttribute("type") || "").toLowerCase();
      if (["submit", "button", "reset"].includes(ty)) return clean(el.value) || (ty === "submit" ? "Submit" : "");
      if (ty === "image") return clean(el.alt);
      return labelText(el) || clean(el.getAttribute("placeholder")) || clean(el.title);
    }
    if (t === "IMG") return clean(el.alt);
    if (landmark[t]) return clean(el.title);
    if (["button", "link", "heading", "checkbox", "radio", "tab", "menuitem", "option"].includes(r) || t === "LABEL") {
      let txt = clean(el.innerText || el.textContent);
      if (!txt) { const img = el.querySelector("img[alt]"); if (img) txt = clean(img.alt); }
      if (txt) return txt.slice(0, 300);
    }
    return clean(el.title);
  };
  const value = el => {
    if (el.tagName === "SELECT") { const o = el.selectedOptions[0] || el.options[0]; return o ? clean(o.text) : ""; }
    if (el.tagName === "INPUT" || el.tagName === "TEXTAREA") return el.value || "";
    return "";
  };
  const regionOf = el => {
    const chain = [];
    for (let cur = el.parentElement; cur; cur = cur.parentElement) {
      let word = landmark[cur.tagName] || roleWord[cur.getAttribute("role") || ""];
      if (!word) continue;
      let label = cur.getAttribute("aria-label") || cur.id || cur.getAttribute("name") || "";
      if (!label) { if (cur.tagName !== "SECTION") chain.unshift(word); continue; }
      label = clean(label.replace(/[-_]/g, " ").toLowerCase());
      chain.unshift(label.includes(word) ? label : label + " " + word);
    }
    return chain.join(" > ");
  };
  const pathOf = el => {
    const parts = [];
    for (let cur = el; cur && cur.nodeType === 1; cur = cur.parentElement) {
      if (cur.id) { parts.unshift(cur.tagName.toLowerCase() + "#" + cur.id); break; }
      const sibs = cur.parentElement ? Array.from(cur.parentElement.children).filter(c => c.tagName === cur.tagName) : [cur];
      parts.unshift(cur.tagName.toLowerCase() + (sibs.length > 1 ? ":nth-of-type(" + (sibs.indexOf(cur) + 1) + ")" : ""));
    }
    return parts.join(" > ");
  };
  const ownText = el => Array.from(el.childNodes).some(n => n.nodeType === 3 && n.textContent.trim());
  const generic = ["SPAN", "DIV", "STRONG", "EM", "B", "SMALL", "TD", "TH", "LI", "P", "SECTION", "DETAILS"];
  const testID = el => el.getAttribute("data-testid") || el.getAttribute("data-test-id") || el.getAttribute("data-test") || el.getAttribute("data-qa");
  const sel = "a, button, input, select, textarea, label, img, h1, h2, h3, h4, h5, h6, p, li, td, th, span, div, strong, em, b, small, header, footer, nav, main, aside, form, section, dialog, summary, details, [role], [data-testid], [data-test-id], [contenteditable]";
  const out = [];
  for (const el of document.body ? document.body.querySelectorAll(sel) : []) {
    if (generic.includes(el.tagName) && !el.hasAttribute("role") && !testID(el) && !el.isContentEditable) {
      if (el.tagName === "SECTION" ? !el.hasAttribute("aria-label") : !ownText(el)) continue;
    }
    let ref = el.getAttribute(ATTR);
    if (!ref) { ref = window.__sdDoc + "-" + (++window.__sdSeq); el.setAttribute(ATTR, ref); }
    const r = role(el);
    const attrs = {};
    for (const a of el.attributes) if (a.name !== ATTR && a.name !== "style") attrs[a.name] = a.value;
    const isHidden = hidden(el);
    const disabled = el.disabled || el.getAttribute("aria-disabled") === "true" || !!el.closest("fieldset[disabled]");
    const interactive = ["A", "BUTTON", "INPUT", "SELECT", "TEXTAREA", "SUMMARY", "LABEL"].includes(el.tagName) ||
      ["button", "link", "checkbox", "radio", "tab", "menuitem", "option", "switch", "textbox", "combobox", "slider"].includes(r) ||
      el.hasAttribute("onclick") || (el.hasAttribute("tabindex") && el.getAttribute("tabindex") !== "-1");
    const readonly = el.readOnly || el.getAttribute("aria-readonly") === "true";
    out.push({
      ref, tag: el.tagName.toLowerCase(), role: r, name: name(el, r),
      text: clean(el.innerText || el.textContent).slice(0, 300), value: value(el),
      attributes: attrs, path: pathOf(el), region: regionOf(el),
      visible: !isHidden, enabled: !disabled, interactable: !isHidden && !disabled && interactive,
      editable: !disabled && !readonly && (el.isContentEditable || el.tagName === "TEXTAREA" || (el.tagName === "INPUT" && r === "textbox")),
      checked: !!el.checked || el.getAttribute("aria-checked") === "true",
      selected: !!el.selected || el.getAttribute("aria-selected") === "true",
      decorative: el.getAttribute("aria-hidden") === "true" || ["presentation", "none"].includes(el.getAttribute("role")) || (el.tagName === "IMG" && el.getAttribute("alt") === ""),
    });
  }
  return JSON.stringify({ url: location.href, title: document.title, text: clean(document.body ? document.body.innerText : ""), elements: out });
})()`

// probeScript reports the live state of one element without moving anything.
const probeScript = `(() => {
  const el = document.querySelector(%q);
  if (!el) return JSON.stringify({ exists: false });
  const st = getComputedStyle(el);
  const r = el.getBoundingClientRect();
  const visible = !el.hidden && st.display !== "none" && st.visibility !== "hidden" && (r.width > 0 || r.height > 0);
  return JSON.stringify({
    exists: true, visible,
    enabled: !el.disabled && el.getAttribute("aria-disabled") !== "true",
    checked: !!el.checked || el.getAttribute("aria-checked") === "true",
    tag: el.tagName.toLowerCase(), type: (el.getAttribute("type") || "").toLowerCase(),
    text: (el.value !== undefined && el.tagName !== "BUTTON") ? String(el.value) : (el.innerText || "").trim(),
  });
})()`

const selectScript = `(() => {
  const el = document.querySelector(%q);
  if (!el || el.tagName !== "SELECT") return "not-select";
  const want = %q;
  const norm = s => (s || "").replace(/\s+/g, " ").trim().toLowerCase();
  const opt = Array.from(el.options).find(o => o.value === want || norm(o.text) === norm(want));
  if (!opt) return "no-option";
  el.value = opt.value;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return "ok";
})()`

const scrollScript = `(() => {
  const h = document.documentElement.scrollHeight, v = window.innerHeight;
  switch (%q) {
    case "up": window.scrollBy(0, -v); break;
    case "down": window.scrollBy(0, v); break;
    case "top": window.scrollTo(0, 0); break;
    default: window.scrollTo(0, h);
  }
  return true;
})()`

type observedPage struct {
	URL      string            `json:"url"`
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	Elements []schemas.Element `json:"elements"`
}

type probe struct {
	Exists  bool   `json:"exists"`
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
	Checked bool   `json:"checked"`
	Tag     string `json:"tag"`
	Type    string `json:"type"`
	Text    string `json:"text"`
}

func decodeSnapshot(raw string, now time.Time) (*schemas.PageSnapshot, error) {
	var page observedPage
	if err := json.UnmarshalFromString(raw, &page); err != nil {
		return nil, fmt.Errorf("failed to decode page observation: %w", err)
	}
	snap := &schemas.PageSnapshot{
		URL:        page.URL,
		Title:      strings.TrimSpace(page.Title),
		Text:       page.Text,
		Elements:   page.Elements,
		CapturedAt: now,
	}
	for i := range snap.Elements {
		snap.Elements[i].Index = i
		snap.Elements[i].Selector = snapshot.RefSelector(snap.Elements[i].Ref)
	}
	return snap, nil
}

func decodeProbe(raw string) (probe, error) {
	var p probe
	if err := json.UnmarshalFromString(raw, &p); err != nil {
		return probe{}, fmt.Errorf("failed to decode element probe: %w", err)
	}
	return p, nil
}
