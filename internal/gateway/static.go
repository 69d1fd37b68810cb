package gateway

import "net/http"

// indexHTML is the embedded shell. It connects a websocket back to the
// same host at the /ws suffix of whatever path it was served from, so the
// one page works for any tenant and any fleet path.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>stockfleet</title>
<style>
  body { font-family: ui-monospace, monospace; margin: 2rem; background: #111; color: #ddd; }
  h1 { font-size: 1.1rem; }
  #log { white-space: pre-wrap; border: 1px solid #333; padding: 0.5rem; min-height: 12rem; }
  input, button { font: inherit; background: #222; color: #ddd; border: 1px solid #444; padding: 0.3rem; }
</style>
</head>
<body>
<h1>stockfleet</h1>
<div id="log"></div>
<input id="msg" size="60" placeholder='{"type":"ping"}'>
<button id="send">send</button>
<script>
  const log = document.getElementById("log");
  const base = location.pathname.replace(/\/$/, "");
  const proto = location.protocol === "https:" ? "wss:" : "ws:";
  const ws = new WebSocket(proto + "//" + location.host + base + "/ws");
  const line = t => { log.textContent += t + "\n"; };
  ws.onopen = () => line("connected " + base + "/ws");
  ws.onmessage = e => line(e.data);
  ws.onclose = () => line("disconnected");
  document.getElementById("send").onclick = () => {
    ws.send(document.getElementById("msg").value);
  };
</script>
</body>
</html>
`

// serveStatic answers every non-API, non-upgrade GET with the shell.
func serveStatic(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/favicon.ico" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(indexHTML))
}
