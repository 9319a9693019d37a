package proxy

// InterceptorVersion identifies the embedded client script. Bump it whenever
// the script changes so cached frames can be told apart in bug reports.
const InterceptorVersion = "1.0.0"

// interceptorScript is served inline at the top of every proxied HTML page.
// It routes same-origin fetch/XHR/WebSocket traffic and late-inserted DOM
// nodes through the frame endpoint. Cross-origin URLs pass through untouched.
const interceptorScript = `(function () {
  "use strict";
  var cfg = window.__IAHOME_PROXY__;
  if (!cfg || cfg.patched) { return; }
  cfg.patched = true;
  cfg.version = "` + InterceptorVersion + `";

  function reroute(raw) {
    if (typeof raw !== "string" || raw === "") { return raw; }
    if (/^(data:|javascript:|mailto:|#|blob:)/i.test(raw)) { return raw; }
    var resolved;
    try {
      resolved = new URL(raw, window.location.href);
    } catch (e) {
      return raw;
    }
    if (resolved.origin !== window.location.origin) { return raw; }
    if (resolved.pathname.indexOf(cfg.base) === 0) { return raw; }
    var path = resolved.pathname + resolved.search;
    return cfg.base + "?token=" + encodeURIComponent(cfg.token) +
      "&path=" + encodeURIComponent(path);
  }

  var origFetch = window.fetch;
  if (origFetch) {
    window.fetch = function (input, init) {
      if (typeof input === "string") {
        return origFetch.call(this, reroute(input), init);
      }
      if (input && typeof input.url === "string") {
        return origFetch.call(this, new Request(reroute(input.url), input), init);
      }
      return origFetch.call(this, input, init);
    };
  }

  var origOpen = window.XMLHttpRequest && window.XMLHttpRequest.prototype.open;
  if (origOpen) {
    window.XMLHttpRequest.prototype.open = function (method, url) {
      var args = Array.prototype.slice.call(arguments);
      args[1] = reroute(url);
      return origOpen.apply(this, args);
    };
  }

  var OrigWebSocket = window.WebSocket;
  if (OrigWebSocket) {
    window.WebSocket = function (url, protocols) {
      var rerouted = reroute(String(url));
      if (protocols === undefined) {
        return new OrigWebSocket(rerouted);
      }
      return new OrigWebSocket(rerouted, protocols);
    };
    window.WebSocket.prototype = OrigWebSocket.prototype;
    window.WebSocket.CONNECTING = OrigWebSocket.CONNECTING;
    window.WebSocket.OPEN = OrigWebSocket.OPEN;
    window.WebSocket.CLOSING = OrigWebSocket.CLOSING;
    window.WebSocket.CLOSED = OrigWebSocket.CLOSED;
  }

  function patchNode(node) {
    if (!node || node.nodeType !== 1) { return; }
    if (node.hasAttribute && node.hasAttribute("href")) {
      node.setAttribute("href", reroute(node.getAttribute("href")));
    }
    if (node.hasAttribute && node.hasAttribute("src")) {
      node.setAttribute("src", reroute(node.getAttribute("src")));
    }
    if (node.querySelectorAll) {
      var nested = node.querySelectorAll("[href],[src]");
      for (var i = 0; i < nested.length; i++) { patchNode(nested[i]); }
    }
  }

  var observer = new MutationObserver(function (mutations) {
    for (var i = 0; i < mutations.length; i++) {
      var added = mutations[i].addedNodes;
      for (var j = 0; j < added.length; j++) { patchNode(added[j]); }
    }
  });
  observer.observe(document.documentElement, { childList: true, subtree: true });
})();
`
