package stealth

// The patch scripts below run inside one IIFE, in the order fixed by the
// patches slice. Every patch is wrapped in its own try/catch: a missing
// global on an exotic document must never surface an exception to the page.

// jsPreamble defines shared helpers. masked maps a patched function to the
// native-template source the toString cloak reports for it.
const jsPreamble = `
const masked = new WeakMap();
const mask = (fn, name) => {
	try {
		masked.set(fn, 'function ' + name + '() { [native code] }');
		Object.defineProperty(fn, 'name', { value: name, configurable: true });
	} catch (e) {}
	return fn;
};
const djb2 = (str) => {
	let h = 5381;
	for (let i = 0; i < str.length; i++) {
		h = (((h << 5) + h) + str.charCodeAt(i)) >>> 0;
	}
	return h;
};
const define = (obj, prop, getter) => {
	try {
		Object.defineProperty(obj, prop, { get: mask(getter, 'get ' + prop), configurable: true });
	} catch (e) {}
};
`

// jsResidue removes driver-injected globals and neutralizes the webdriver
// flag. Deleting own properties makes both the in-operator and own-property
// enumeration come back empty for these names.
const jsResidue = `
try {
	const residuePrefixes = [
		'cdc_', '$cdc_', '$chrome_asyncScriptInfo',
		'__driver_evaluate', '__webdriver_evaluate', '__selenium_evaluate',
		'__fxdriver_evaluate', '__driver_unwrapped', '__webdriver_unwrapped',
		'__selenium_unwrapped', '__fxdriver_unwrapped', '__webdriver_script_fn',
		'__webdriver_script_func', '__webdriver_script_function', '__$webdriverAsyncExecutor',
		'__lastWatirAlert', '__lastWatirConfirm', '__lastWatirPrompt',
		'_Selenium_IDE_Recorder', '_selenium', 'calledSelenium',
		'__nightmare', '_phantom', 'callPhantom',
		'domAutomation', 'domAutomationController'
	];
	const scrub = (obj) => {
		for (const key of Object.getOwnPropertyNames(obj)) {
			for (const prefix of residuePrefixes) {
				if (key === prefix || key.startsWith(prefix)) {
					try { delete obj[key]; } catch (e) {}
				}
			}
		}
	};
	scrub(window);
	scrub(document);
	define(navigator, 'webdriver', function () { return false; });
} catch (e) {}
`

// jsNavigator pins the navigator identity: language, a window/navigator
// shared chrome object, and a userAgentData surface whose brands mirror
// the UA string.
const jsNavigator = `
try {
	define(navigator, 'language', function () { return __LANGUAGE__; });
	define(navigator, 'languages', function () { return __LANGUAGES__; });

	const chromeObj = (window.chrome && typeof window.chrome === 'object') ? window.chrome : {};
	if (!chromeObj.runtime) { chromeObj.runtime = {}; }
	if (!chromeObj.app) { chromeObj.app = {}; }
	try { window.chrome = chromeObj; } catch (e) {}
	define(navigator, 'chrome', function () { return chromeObj; });

	const brands = __UA_BRANDS__;
	const highEntropy = {
		architecture: 'x86',
		bitness: '64',
		brands: brands,
		fullVersionList: brands.map((b) => ({ brand: b.brand, version: __UA_FULL_VERSION__ })),
		mobile: false,
		model: '',
		platform: __PLATFORM__,
		platformVersion: '10.0.0',
		uaFullVersion: __UA_FULL_VERSION__
	};
	const uaData = {
		brands: brands,
		mobile: false,
		platform: __PLATFORM__,
		getHighEntropyValues: mask(function getHighEntropyValues(hints) {
			if (!Array.isArray(hints)) {
				return Promise.reject(new TypeError("Failed to execute 'getHighEntropyValues' on 'NavigatorUAData': The provided value cannot be converted to a sequence."));
			}
			const out = { brands: brands, mobile: false, platform: __PLATFORM__ };
			for (const hint of hints) {
				if (hint in highEntropy) { out[hint] = highEntropy[hint]; }
			}
			return Promise.resolve(out);
		}, 'getHighEntropyValues'),
		toJSON: mask(function toJSON() {
			return { brands: brands, mobile: false, platform: __PLATFORM__ };
		}, 'toJSON')
	};
	define(navigator, 'userAgentData', function () { return uaData; });
} catch (e) {}
`

// jsGeometry restores the window-chrome offsets a headless browser lacks.
// Inner dimensions are left untouched.
const jsGeometry = `
try {
	define(window, 'outerWidth', function () { return window.innerWidth + 16; });
	define(window, 'outerHeight', function () { return window.innerHeight + 135; });
} catch (e) {}
`

// jsPermissions supplies a permissions surface only when the native API is
// absent. Known names resolve to a whitelisted state; a missing name
// rejects the way the native implementation does.
const jsPermissions = `
try {
	if (!navigator.permissions) {
		const grantedNames = ['device-info', 'background-sync'];
		const queryFn = mask(function query(descriptor) {
			if (!descriptor || descriptor.name === undefined) {
				return Promise.reject(new TypeError("Failed to execute 'query' on 'Permissions': required member name is undefined."));
			}
			const state = grantedNames.includes(descriptor.name) ? 'granted' : 'prompt';
			const status = { state: state, name: descriptor.name, onchange: null };
			status.addEventListener = mask(function addEventListener() {}, 'addEventListener');
			status.removeEventListener = mask(function removeEventListener() {}, 'removeEventListener');
			return Promise.resolve(status);
		}, 'query');
		define(navigator, 'permissions', function () { return { query: queryFn }; });
	}
} catch (e) {}
`

// jsWebGL spoofs the unmasked vendor/renderer pair on both context
// generations. Every other parameter passes through untouched.
const jsWebGL = `
try {
	const UNMASKED_VENDOR_WEBGL = 37445;
	const UNMASKED_RENDERER_WEBGL = 37446;
	const patchGL = (proto) => {
		if (!proto || !proto.getParameter) { return; }
		const nativeGetParameter = proto.getParameter;
		proto.getParameter = mask(function getParameter(parameter) {
			if (parameter === UNMASKED_VENDOR_WEBGL) { return __WEBGL_VENDOR__; }
			if (parameter === UNMASKED_RENDERER_WEBGL) { return __WEBGL_RENDERER__; }
			return nativeGetParameter.call(this, parameter);
		}, 'getParameter');
	};
	patchGL(typeof WebGLRenderingContext !== 'undefined' ? WebGLRenderingContext.prototype : null);
	patchGL(typeof WebGL2RenderingContext !== 'undefined' ? WebGL2RenderingContext.prototype : null);
} catch (e) {}
`

// jsCanvas flips one bit per pixel byte, chosen by a seeded table so the
// modification is stable per (session, canvas size). toDataURL renders
// from the same perturbed pixels. Empty canvases pass through unchanged.
const jsCanvas = `
try {
	const noiseTable = (w, h) => {
		const t = new Uint8Array(128);
		for (let k = 0; k < 128; k++) {
			t[k] = djb2(__SESSION_SEED__ + '|' + w + '|' + h + '|' + k) & 0xff;
		}
		return t;
	};
	const perturb = (data, w, h) => {
		let empty = true;
		for (let i = 0; i < data.length; i++) {
			if (data[i] !== 0) { empty = false; break; }
		}
		if (empty) { return; }
		const t = noiseTable(w, h);
		for (let i = 0; i < data.length; i++) {
			const v = data[i];
			const bit = (t[v & 0x7f] >> (((i & 3) << 1) | (v >> 7))) & 1;
			data[i] = v ^ bit;
		}
	};
	if (typeof CanvasRenderingContext2D !== 'undefined') {
		const nativeGetImageData = CanvasRenderingContext2D.prototype.getImageData;
		CanvasRenderingContext2D.prototype.getImageData = mask(function getImageData(...args) {
			const image = nativeGetImageData.apply(this, args);
			try { perturb(image.data, this.canvas.width, this.canvas.height); } catch (e) {}
			return image;
		}, 'getImageData');

		if (typeof HTMLCanvasElement !== 'undefined') {
			const nativeToDataURL = HTMLCanvasElement.prototype.toDataURL;
			HTMLCanvasElement.prototype.toDataURL = mask(function toDataURL(...args) {
				try {
					if (this.width > 0 && this.height > 0) {
						const source = this.getContext('2d');
						if (source) {
							const image = nativeGetImageData.call(source, 0, 0, this.width, this.height);
							perturb(image.data, this.width, this.height);
							const copy = document.createElement('canvas');
							copy.width = this.width;
							copy.height = this.height;
							copy.getContext('2d').putImageData(image, 0, 0);
							return nativeToDataURL.apply(copy, args);
						}
					}
				} catch (e) {}
				return nativeToDataURL.apply(this, args);
			}, 'toDataURL');
		}
	}
} catch (e) {}
`

// jsFonts adds deterministic sub-pixel noise to text measurement. The
// mock document.fonts surface installs only when the native one is absent.
const jsFonts = `
try {
	const fontNoise = (key, scale) => {
		const h = djb2(__SESSION_SEED__ + '|' + key);
		return (((h % 2001) - 1000) / 1000) * scale;
	};
	if (typeof CanvasRenderingContext2D !== 'undefined') {
		const nativeMeasureText = CanvasRenderingContext2D.prototype.measureText;
		CanvasRenderingContext2D.prototype.measureText = mask(function measureText(text) {
			const metrics = nativeMeasureText.call(this, text);
			const key = this.font + '|' + text + '|' + this.textAlign + '|' + this.textBaseline + '|' + this.direction;
			const widthDelta = fontNoise(key, 0.05);
			const boxDelta = fontNoise(key + '|box', 0.025);
			try {
				return new Proxy(metrics, {
					get(target, prop) {
						if (prop === 'width') { return target.width + widthDelta; }
						if (prop === 'actualBoundingBoxLeft' && 'actualBoundingBoxLeft' in target) {
							return target.actualBoundingBoxLeft + boxDelta;
						}
						if (prop === 'actualBoundingBoxRight' && 'actualBoundingBoxRight' in target) {
							return target.actualBoundingBoxRight + boxDelta;
						}
						const value = Reflect.get(target, prop);
						return typeof value === 'function' ? value.bind(target) : value;
					}
				});
			} catch (e) {
				return metrics;
			}
		}, 'measureText');
	}
	if (!document.fonts) {
		const fakeFonts = {
			ready: Promise.resolve(),
			status: 'loaded',
			size: 0,
			check: mask(function check() { return true; }, 'check'),
			load: mask(function load() { return Promise.resolve([]); }, 'load'),
			addEventListener: mask(function addEventListener() {}, 'addEventListener'),
			removeEventListener: mask(function removeEventListener() {}, 'removeEventListener'),
			forEach: mask(function forEach() {}, 'forEach')
		};
		define(document, 'fonts', function () { return fakeFonts; });
	}
} catch (e) {}
`

// jsMediaCodecs validates decodingInfo input with native-looking errors,
// forwards to the native implementation, and reports common codecs as
// fully supported via a fresh result object.
const jsMediaCodecs = `
try {
	if (navigator.mediaCapabilities && navigator.mediaCapabilities.decodingInfo) {
		const nativeDecodingInfo = navigator.mediaCapabilities.decodingInfo.bind(navigator.mediaCapabilities);
		const codecWhitelist = /\b(vp8|vp9|vp09|av01|avc1|avc3|hev1|hvc1|mp4v|opus|vorbis|mp4a|mp3|flac|pcm)\b/i;
		navigator.mediaCapabilities.decodingInfo = mask(function decodingInfo(config) {
			if (!config || config.type === undefined) {
				return Promise.reject(new TypeError("Failed to execute 'decodingInfo' on 'MediaCapabilities': required member type is undefined."));
			}
			if (config.type !== 'file' && config.type !== 'media-source' && config.type !== 'webrtc') {
				return Promise.reject(new TypeError("Failed to execute 'decodingInfo' on 'MediaCapabilities': The provided value '" + config.type + "' is not a valid enum value of type MediaDecodingType."));
			}
			const contentType = (config.video && config.video.contentType) || (config.audio && config.audio.contentType) || '';
			return nativeDecodingInfo(config).then((result) => {
				if (codecWhitelist.test(contentType)) {
					return { supported: true, smooth: true, powerEfficient: true };
				}
				return result;
			});
		}, 'decodingInfo');
	}
} catch (e) {}
`

// jsToStringCloak makes every masked function report the native template,
// installed last so it covers all earlier patches. Stack frames that would
// reveal the proxy layer are stripped from escaping errors.
const jsToStringCloak = `
try {
	const nativeToString = Function.prototype.toString;
	const cloaked = function toString() {
		if (masked.has(this)) { return masked.get(this); }
		try {
			return nativeToString.call(this);
		} catch (err) {
			if (err && typeof err.stack === 'string') {
				try {
					err.stack = err.stack.split('\n')
						.filter((line) => !/(Proxy|Reflect\.|cloaked)/.test(line))
						.join('\n');
				} catch (e) {}
			}
			throw err;
		}
	};
	masked.set(cloaked, 'function toString() { [native code] }');
	Function.prototype.toString = cloaked;
} catch (e) {}
`
