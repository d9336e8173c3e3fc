package browser

// collectorScript gathers candidate elements in one pass and synthesizes a
// live-validated selector for each. It takes an options object and returns a
// collection object; see decodeCollection for the shape.
func collectorScript() string {
	return `(opts) => {
		const MAX_SCANNED = opts.maxScanned || 3000;
		const MAX_TABLE_ROWS = opts.maxTableRows || 50;
		const MAX_OPTIONS = opts.maxOptions || 100;
		const MAX_TEXT = 500;
		const MAX_ATTRS = 40;
		const MAX_ATTR_VALUE = 200;

		const QUERY = [
			'a', 'button', 'input', 'select', 'textarea', 'label', 'legend', 'form', 'nav', 'table', 'dialog', 'details', 'summary',
			'img', 'svg', 'canvas', 'video', 'audio', 'iframe', 'picture',
			'h1', 'h2', 'h3', 'h4', 'h5', 'h6', 'p', 'li', 'span', 'div', 'section', 'article',
			'[role]', '[data-testid]', '[data-test]', '[data-cy]', '[data-qa]', '[data-test-id]', '[data-automation-id]',
			'[onclick]', '[tabindex]', '[contenteditable]', '[aria-label]', '[aria-haspopup]', '[aria-expanded]',
			'[aria-controls]', '[data-toggle]', '[data-bs-toggle]'
		].join(',');

		const TEST_ATTRS = ['data-testid', 'data-test', 'data-cy', 'data-qa', 'data-test-id', 'data-automation-id'];
		const FORM_CONTROLS = new Set(['input', 'select', 'textarea', 'button']);
		const PRIMARY = new Set(['a', 'button', 'input', 'select', 'textarea']);
		const CONTAINERS = new Set(['div', 'span', 'section', 'article', 'aside', 'li', 'ul', 'ol', 'main', 'header', 'footer', 'figure']);
		const STRUCTURAL = new Set(['form', 'nav', 'table', 'dialog', 'img', 'svg', 'canvas', 'video', 'audio', 'iframe', 'picture']);
		const SKIP = new Set(['script', 'style', 'meta', 'link', 'head', 'title', 'noscript', 'template', 'base']);
		const STATE_CLASSES = /^(active|hover|focus|focused|disabled|selected|open|opened|show|shown|visible|hidden|collapsed|expanded|in|is-.*|has-.*|ng-.*|js-.*)$/;
		const HASHY = /([0-9a-f]{6,}|^css-|^sc-|^jsx-|__[a-zA-Z0-9]{5,}|_[a-zA-Z0-9]{5}$)/;
		const INTERACTIVE_DESC = 'a,button,input,select,textarea,[role="button"],[role="link"],[onclick],[tabindex]:not([tabindex="-1"])';

		const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
		const q = (v) => '"' + String(v).replace(/\\/g, '\\\\').replace(/"/g, '\\"') + '"';
		const esc = (v) => (window.CSS && CSS.escape) ? CSS.escape(v) : String(v).replace(/([^a-zA-Z0-9_-])/g, '\\$1');

		const elementIndex = (el) => {
			const p = el.parentElement;
			return p ? Array.prototype.indexOf.call(p.children, el) : 0;
		};

		const nthOfType = (el) => {
			let n = 1;
			for (let s = el.previousElementSibling; s; s = s.previousElementSibling) {
				if (s.tagName === el.tagName) n++;
			}
			return n;
		};

		const pathOf = (el) => {
			const path = [];
			for (let cur = el; cur && cur !== document.documentElement; cur = cur.parentElement) {
				path.unshift(elementIndex(cur));
			}
			return path;
		};

		const textOf = (el, tag) => {
			if (tag === 'input' || tag === 'textarea') return '';
			if (tag === 'select') {
				const o = el.options && el.selectedIndex >= 0 ? el.options[el.selectedIndex] : null;
				return o ? norm(o.text) : '';
			}
			return norm(el.innerText || el.textContent);
		};

		// Tables are scanned once up front; their descendants are never
		// collected on their own.
		const tables = new Map();
		const inTable = new Set();

		const scanTable = (table) => {
			const rows = Array.from(table.rows || []);
			let headerRow = table.tHead && table.tHead.rows.length ? table.tHead.rows[0] : null;
			if (!headerRow) {
				headerRow = rows.find((r) => r.querySelector('th') && !r.querySelector('td')) || null;
			}

			const headers = headerRow ? Array.from(headerRow.cells).map((c) => norm(c.innerText || c.textContent)) : [];
			const dataRows = rows.filter((r) => r !== headerRow && r.parentElement && r.parentElement.tagName !== 'THEAD');

			let columnCount = headers.length;
			const sampled = [];

			for (const r of dataRows) {
				columnCount = Math.max(columnCount, r.cells.length);
				if (sampled.length >= MAX_TABLE_ROWS) continue;

				const parent = r.parentElement;
				let section = '';
				if (parent && parent !== table) {
					const ptag = parent.tagName.toLowerCase();
					let n = 0;
					for (const c of table.children) {
						if (c.tagName === parent.tagName) n++;
						if (c === parent) break;
					}
					section = ptag + ':nth-of-type(' + n + ')';
				}

				sampled.push({
					section: section,
					position: elementIndex(r) + 1,
					cells: Array.from(r.cells).map((c) => norm(c.innerText || c.textContent).slice(0, 200))
				});
			}

			return { headers: headers, rowCount: dataRows.length, columnCount: columnCount, rows: sampled };
		};

		for (const table of document.querySelectorAll('table')) {
			if (inTable.has(table)) continue;
			for (const d of table.querySelectorAll('*')) inTable.add(d);
			try {
				tables.set(table, scanTable(table));
			} catch (e) {
				tables.set(table, { headers: [], rowCount: 0, columnCount: 0, rows: [] });
			}
		}

		const cheapVisible = (el, tag) => {
			if (el.hidden) return false;
			const s = el.style;
			if (s && (s.display === 'none' || s.visibility === 'hidden')) return false;
			if (FORM_CONTROLS.has(tag)) return true;
			if (el.offsetWidth > 0 || el.offsetHeight > 0) return true;
			return el.getClientRects().length > 0;
		};

		const hasSignal = (el, tag) => {
			if (PRIMARY.has(tag) || STRUCTURAL.has(tag)) return true;
			if (el.hasAttribute('role') || el.hasAttribute('onclick') || el.hasAttribute('tabindex') || el.hasAttribute('aria-label')) return true;
			for (const a of TEST_ATTRS) if (el.hasAttribute(a)) return true;
			return norm(el.textContent).length > 0;
		};

		const controlTarget = (el) => {
			let id = el.getAttribute('aria-controls') || el.getAttribute('data-bs-target') || el.getAttribute('data-target') || '';
			if (!id) {
				const href = el.getAttribute('href') || '';
				if (href.length > 1 && href[0] === '#') id = href;
			}
			id = id.trim().split(/\s+/)[0] || '';
			if (id[0] === '#') id = id.slice(1);
			if (!id) return null;

			const target = document.getElementById(id);
			if (!target) return { id: id, exists: false };

			return {
				id: id,
				exists: true,
				role: (target.getAttribute('role') || '').toLowerCase(),
				className: typeof target.className === 'string' ? target.className : '',
				tag: target.tagName.toLowerCase()
			};
		};

		const optionsOf = (el, tag, controls) => {
			if (tag === 'select') {
				return Array.from(el.options || []).slice(0, MAX_OPTIONS).map((o, i) => ({
					value: o.value, text: norm(o.text), selected: !!o.selected, index: i, id: o.id || ''
				}));
			}

			const role = (el.getAttribute('role') || '').toLowerCase();
			const popup = (el.getAttribute('aria-haspopup') || '').toLowerCase();
			let list = null;
			if (role === 'listbox') list = el;
			else if (controls && controls.exists) list = document.getElementById(controls.id);
			if (!list || !(role === 'listbox' || role === 'combobox' || popup === 'listbox' || popup === 'menu' || popup === 'true' || (controls && (controls.role === 'listbox' || controls.role === 'menu')))) {
				return null;
			}

			return Array.from(list.querySelectorAll('[role="option"],[role="menuitem"],li')).slice(0, MAX_OPTIONS).map((o, i) => ({
				value: o.getAttribute('data-value') || o.getAttribute('value') || '',
				text: norm(o.innerText || o.textContent),
				selected: o.getAttribute('aria-selected') === 'true',
				index: i,
				id: o.id || ''
			}));
		};

		const attributesOf = (el) => {
			const out = {};
			const attrs = el.attributes || [];
			for (let i = 0; i < attrs.length && i < MAX_ATTRS; i++) {
				out[attrs[i].name] = String(attrs[i].value).slice(0, MAX_ATTR_VALUE);
			}
			return out;
		};

		const stableClasses = (el) => {
			const raw = typeof el.className === 'string' ? el.className : (el.getAttribute('class') || '');
			return raw.split(/\s+/).filter((c) => c && c.length > 2 && !STATE_CLASSES.test(c) && !HASHY.test(c) && /^[a-zA-Z_-][a-zA-Z0-9_-]*$/.test(c));
		};

		// Selector synthesis: ordered rules, first selector matching only el wins.
		const synthesize = (el, tag, text) => {
			const unique = (sel) => {
				try {
					const m = document.querySelectorAll(sel);
					return m.length === 1 && m[0] === el;
				} catch (e) {
					return false;
				}
			};

			const attr = (name) => el.getAttribute(name);
			const parent = el.parentElement;
			const ptag = parent ? parent.tagName.toLowerCase() : '';
			const type = attr('type');

			const rules = [
				() => el.id ? ['#' + esc(el.id)] : [],
				() => ['data-testid', 'data-test'].concat(TEST_ATTRS).filter((a) => attr(a)).map((a) => '[' + a + '=' + q(attr(a)) + ']'),
				() => attr('name') ? ['[name=' + q(attr('name')) + ']', tag + '[name=' + q(attr('name')) + ']'] : [],
				() => attr('aria-label') ? ['[aria-label=' + q(attr('aria-label')) + ']', tag + '[aria-label=' + q(attr('aria-label')) + ']'] : [],
				() => type ? [tag + '[type=' + q(type) + ']'] : [],
				() => {
					const cls = stableClasses(el).slice(0, 3).map(esc);
					if (!cls.length) return [];
					return [tag + '.' + cls.join('.')].concat(cls.map((c) => tag + '.' + c));
				},
				() => {
					const present = ['role', 'placeholder', 'value', 'title', 'href', 'alt', 'for'].filter((a) => attr(a) && attr(a).length <= 100);
					const out = [];
					for (let i = 0; i < present.length; i++) {
						for (let j = i + 1; j < present.length; j++) {
							out.push(tag + '[' + present[i] + '=' + q(attr(present[i])) + '][' + present[j] + '=' + q(attr(present[j])) + ']');
						}
					}
					return out.concat(present.map((a) => tag + '[' + a + '=' + q(attr(a)) + ']'));
				},
				() => {
					if (!text || text.length > 50 || !parent) return [];
					let same = 0;
					for (const c of parent.children) if (c.tagName === el.tagName) same++;
					if (same > 5) return [];
					const needle = text.toLowerCase();
					let hits = 0;
					let mine = false;
					for (const c of document.getElementsByTagName(tag)) {
						if (norm(c.innerText || c.textContent).toLowerCase().includes(needle)) {
							hits++;
							if (c === el) mine = true;
						}
					}
					return hits === 1 && mine ? [{ text: tag + ':has-text(' + q(text) + ')' }] : [];
				},
				() => {
					if (!parent) return [];
					const pc = stableClasses(parent).slice(0, 2).map(esc);
					return pc.length ? [ptag + '.' + pc.join('.') + ' > ' + tag] : [];
				},
				() => parent && parent.id ? ['#' + esc(parent.id) + ' > ' + tag, '#' + esc(parent.id) + ' > ' + tag + (type ? '[type=' + q(type) + ']' : '')] : [],
				() => parent && type ? [ptag + ' > ' + tag + '[type=' + q(type) + ']'] : [],
				() => {
					if (!parent) return [];
					const out = [];
					if (el === parent.firstElementChild) out.push(ptag + ' > ' + tag + ':first-child');
					if (el === parent.lastElementChild) out.push(ptag + ' > ' + tag + ':last-child');
					out.push(ptag + ' > ' + tag + ':nth-child(' + (elementIndex(el) + 1) + ')');
					return out;
				},
				() => [tag + ':nth-of-type(' + nthOfType(el) + ')']
			];

			for (const rule of rules) {
				let cands = [];
				try {
					cands = rule();
				} catch (e) {
					continue;
				}
				for (const c of cands) {
					if (typeof c === 'object') return c.text;
					if (unique(c)) return c;
				}
			}

			return tag;
		};

		const elements = [];
		let scanned = 0;
		let skipped = 0;
		let failed = 0;

		for (const el of document.querySelectorAll(QUERY)) {
			if (scanned >= MAX_SCANNED) break;
			scanned++;

			try {
				const tag = el.tagName.toLowerCase();
				if (SKIP.has(tag) || inTable.has(el) || !cheapVisible(el, tag) || !hasSignal(el, tag)) {
					skipped++;
					continue;
				}

				const style = window.getComputedStyle(el);
				const rect = el.getBoundingClientRect();
				const fullText = textOf(el, tag);
				const text = fullText.slice(0, MAX_TEXT);
				const controls = controlTarget(el);

				const item = {
					index: elements.length,
					tag: tag,
					attributes: attributesOf(el),
					text: text,
					textLength: fullText.length,
					path: pathOf(el),
					nthOfType: nthOfType(el),
					rect: { x: rect.x, y: rect.y, width: rect.width, height: rect.height },
					style: {
						display: style.display,
						visibility: style.visibility,
						opacity: style.opacity,
						cursor: style.cursor,
						pointerEvents: style.pointerEvents
					},
					hasClickHandler: typeof el.onclick === 'function' || el.hasAttribute('onclick'),
					inForm: !!(el.closest && el.closest('form')),
					hasInteractiveDescendant: CONTAINERS.has(tag) ? !!el.querySelector(INTERACTIVE_DESC) : false,
					tableDescendant: false,
					selector: synthesize(el, tag, text.length <= 50 ? text : '')
				};

				if (tables.has(el)) item.table = tables.get(el);
				if (controls) item.controls = controls;

				const options = optionsOf(el, tag, controls);
				if (options) item.options = options;

				elements.push(item);
			} catch (e) {
				failed++;
			}
		}

		return {
			url: location.href,
			title: document.title,
			elements: elements,
			scanned: scanned,
			skipped: skipped,
			failed: failed
		};
	}`
}

// overviewScript returns the page title and the start of its visible text, for
// bot-challenge detection.
func overviewScript() string {
	return `() => ({
		title: document.title || '',
		text: ((document.body && (document.body.innerText || document.body.textContent)) || '').slice(0, 3000)
	})`
}

func scrollScript() string {
	return `(amount) => {
		if (amount === 0) {
			window.scrollTo(0, document.body ? document.body.scrollHeight : 0);
		} else {
			window.scrollBy(0, amount);
		}
		return true;
	}`
}
