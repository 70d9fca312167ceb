package dashboard

import "net/http"

// consoleHTML is a minimal operator console: state polling and a live event
// tail over the SSE endpoint. Grounded on gateway.go's own habit of serving
// a single self-contained page rather than a separate asset pipeline.
const consoleHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>nxclaw</title>
<style>
body { font: 14px/1.4 monospace; background: #0d1117; color: #c9d1d9; margin: 2rem; }
h1 { font-size: 1rem; color: #58a6ff; }
pre { background: #161b22; padding: 1rem; overflow-x: auto; white-space: pre-wrap; }
#events { max-height: 40vh; overflow-y: auto; }
</style>
</head>
<body>
<h1>nxclaw dashboard</h1>
<section>
<h2>state</h2>
<pre id="state">loading...</pre>
</section>
<section>
<h2>events</h2>
<pre id="events"></pre>
</section>
<script>
function token() {
  var m = location.search.match(/[?&]token=([^&]+)/);
  return m ? m[1] : "";
}
function withToken(url) {
  var t = token();
  return t ? url + (url.indexOf("?") >= 0 ? "&" : "?") + "token=" + t : url;
}
async function refreshState() {
  try {
    const r = await fetch(withToken("/api/state"));
    document.getElementById("state").textContent = JSON.stringify(await r.json(), null, 2);
  } catch (e) {}
}
refreshState();
setInterval(refreshState, 5000);

const es = new EventSource(withToken("/api/events/stream"));
const log = document.getElementById("events");
es.onmessage = function(ev) {
  log.textContent = ev.data + "\n" + log.textContent;
};
</script>
</body>
</html>`

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(consoleHTML))
}
