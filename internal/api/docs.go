package api

import "strings"

const docsHead = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>linkgate API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    .linkgate-nav { position: fixed; top: 12px; right: 16px; z-index: 9999; display: flex; gap: 8px; }
    .linkgate-nav a { background: #161b22; border: 1px solid #30363d; border-radius: 6px; color: #58a6ff;
      font: 500 12px -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; padding: 5px 12px; text-decoration: none; }
  </style>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
`

const docsTail = `  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

// docsPage renders the API reference with shortcuts to the plain handlers
// that are mounted next to it.
func docsPage(mounts Mounts) string {
	var b strings.Builder
	b.WriteString(docsHead)
	var links []string
	if mounts.Events != nil {
		links = append(links, `<a href="/api/v1/events">Event feed</a>`)
	}
	if mounts.Metrics != nil {
		links = append(links, `<a href="/metrics">Metrics</a>`)
	}
	if len(links) > 0 {
		b.WriteString(`  <nav class="linkgate-nav">` + strings.Join(links, "") + "</nav>\n")
	}
	b.WriteString(docsTail)
	return b.String()
}
