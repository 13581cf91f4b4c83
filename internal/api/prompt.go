package api

import (
	"strings"

	"github.com/dgnsrekt/linkgate/internal/cdpcontrol"
)

// promptHTML is the selection prompt opened in a popup for each held link.
// It reads requestId and url from its own query string. The server finds the
// prompt's window from the request ID, so the page never sends its own.
var promptHTML = strings.NewReplacer(
	"{{colors}}", optionList(cdpcontrol.ContainerColors),
	"{{icons}}", optionList(cdpcontrol.ContainerIcons),
).Replace(promptTemplate)

func optionList(values []string) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(`<option value="` + v + `">` + v + "</option>")
	}
	return b.String()
}

const promptTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Open link in container</title>
  <style>
    body { font-family: sans-serif; margin: 12px; }
    #target { word-break: break-all; font-size: 12px; color: #555; }
    button { display: block; width: 100%; margin: 4px 0; padding: 6px; text-align: left; }
    #empty, #error { font-size: 12px; }
    #error { color: #b00; }
    #create-form { margin: 8px 0; }
    #create-form[hidden] { display: none; }
    #create-form input, #create-form select { width: 100%; margin: 2px 0; box-sizing: border-box; }
  </style>
</head>
<body>
  <p id="target"></p>
  <div id="containers"></div>
  <p id="empty" hidden>No containers yet. Create one below.</p>
  <button id="toggle-create">New container</button>
  <form id="create-form" hidden>
    <input id="name" placeholder="Container name" autocomplete="off" />
    <select id="color">{{colors}}</select>
    <select id="icon">{{icons}}</select>
    <button type="submit">Create and open</button>
  </form>
  <button id="none">Open without container</button>
  <button id="cancel">Cancel</button>
  <p id="error"></p>
  <script>
    const params = new URLSearchParams(location.search);
    const requestId = params.get("requestId") || "";
    const url = params.get("url") || "";
    document.getElementById("target").textContent = url || "Unknown URL";

    async function send(msg) {
      const resp = await fetch("/api/v1/messages", {
        method: "POST",
        headers: { "Content-Type": "application/json" },
        body: JSON.stringify(Object.assign({ request_id: requestId, url: url }, msg)),
      });
      if (!resp.ok) {
        throw new Error((await resp.json()).detail || resp.statusText);
      }
      return resp.json();
    }

    function fail(err) {
      document.getElementById("error").textContent = String(err);
    }

    // The server closes this window; closing here covers a server that has
    // already lost it.
    function resolve(msg) {
      return send(msg).then(() => window.close()).catch(fail);
    }

    const openIn = (id) => resolve({ action: "openInContainer", container_id: id });
    const cancel = () => resolve({ action: "cancel" });

    send({ action: "getContainers" }).then((containers) => {
      const list = document.getElementById("containers");
      if (!containers || containers.length === 0) {
        document.getElementById("empty").hidden = false;
        return;
      }
      for (const c of containers) {
        const b = document.createElement("button");
        b.textContent = c.name;
        b.onclick = () => openIn(c.id);
        list.appendChild(b);
      }
    }).catch(fail);

    const form = document.getElementById("create-form");
    const name = document.getElementById("name");
    document.getElementById("toggle-create").onclick = () => {
      form.hidden = !form.hidden;
      if (!form.hidden) name.focus();
    };
    form.onsubmit = (e) => {
      e.preventDefault();
      if (!name.value.trim()) {
        name.focus();
        return;
      }
      send({
        action: "createContainer",
        name: name.value.trim(),
        color: document.getElementById("color").value,
        icon: document.getElementById("icon").value,
      }).then((c) => openIn(c.id)).catch(fail);
    };

    document.getElementById("none").onclick = () => resolve({ action: "openWithoutContainer" });
    document.getElementById("cancel").onclick = cancel;
    document.addEventListener("keydown", (e) => {
      if (e.key === "Escape") cancel();
    });
  </script>
</body>
</html>`
