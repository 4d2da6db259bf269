package server

import (
	"bytes"
	"fmt"
	"net/http"
	"text/template"
)

type pageData struct {
	Farm   string
	Layers []string
	CSS    string
	JS     string
}

const pageCSS = `
body {
	margin: 0;
	font-family: system-ui, sans-serif;
	background: #111827;
	color: #f9fafb;
}
header {
	display: flex;
	gap: 0.5rem;
	align-items: center;
	padding: 0.5rem 1rem;
	background: #1f2937;
}
header h1 {
	font-size: 1rem;
	margin: 0 1rem 0 0;
}
button {
	border: 1px solid #4b5563;
	background: #374151;
	color: inherit;
	padding: 0.25rem 0.75rem;
	cursor: pointer;
}
button.active {
	background: #dc2626;
}
main {
	display: grid;
	grid-template-columns: 1fr 20rem;
	gap: 1rem;
	padding: 1rem;
}
img {
	max-width: 100%;
	background: #000000;
}
pre {
	font-size: 0.75rem;
	white-space: pre-wrap;
}
`

const pageJS = `
const state = document.getElementById("state");
const shot = document.getElementById("shot");
const log = document.getElementById("log");
let since = 0;

async function call(method, url, body) {
	const res = await fetch(url, {
		method: method,
		headers: { "Content-Type": "application/json" },
		body: body ? JSON.stringify(body) : undefined,
	});
	const text = await res.text();
	return text ? JSON.parse(text) : {};
}

async function refresh() {
	const st = await call("GET", "/api/state");
	state.textContent = JSON.stringify(st, null, 2);
	document.querySelectorAll("[data-layer]").forEach(function (b) {
		b.classList.toggle("active", b.dataset.layer === st.imagery);
	});
	const ev = await call("GET", "/api/events?since=" + since);
	since = ev.last;
	ev.events.forEach(function (e) {
		log.textContent = e.kind + " " + (e.message || e.state || e.feature_id || "") + "\n" + log.textContent;
	});
}

document.querySelectorAll("[data-layer]").forEach(function (b) {
	b.addEventListener("click", function () {
		call("POST", "/api/imagery/" + b.dataset.layer).then(refresh);
	});
});

document.getElementById("capture").addEventListener("click", async function () {
	const res = await call("POST", "/api/capture", {});
	if (res.primary) {
		shot.src = res.primary.url + "?t=" + Date.now();
	} else {
		log.textContent = (res.message || res.error) + "\n" + log.textContent;
	}
});

refresh();
setInterval(refresh, 2000);
`

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<title>{{.Farm | html}} - farm canvas</title>
	<style>{{.CSS}}</style>
</head>
<body>
	<header>
		<h1>{{.Farm | html}}</h1>
		{{range .Layers}}<button data-layer="{{. | html}}">{{. | html}}</button>
		{{end}}
		<button id="capture">Capture</button>
	</header>
	<main>
		<img id="shot" alt="Last capture">
		<aside>
			<pre id="state"></pre>
			<pre id="log"></pre>
		</aside>
	</main>
	<script>{{.JS}}</script>
</body>
</html>
`

var pageTmpl = template.Must(template.New("index").Parse(pageTemplate))

func (s *ServerContext) buildIndex() ([]byte, error) {
	cssMin, err := s.minifier.String(mimeCSS, pageCSS)
	if err != nil {
		return nil, fmt.Errorf("minify css: %w", err)
	}
	jsMin, err := s.minifier.String(mimeJS, pageJS)
	if err != nil {
		return nil, fmt.Errorf("minify js: %w", err)
	}

	data := pageData{Farm: s.Config.Farm.Name, CSS: cssMin, JS: jsMin}
	if data.Farm == "" {
		data.Farm = s.Config.Farm.ID
	}
	for _, src := range s.Catalog.Sources() {
		data.Layers = append(data.Layers, src.Name)
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	out, err := s.minifier.Bytes(mimeHTML, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("minify html: %w", err)
	}
	return out, nil
}

// HandleIndex serves the bridge page.
func (s *ServerContext) HandleIndex(w http.ResponseWriter, r *http.Request) {
	etag := fmt.Sprintf(`"%x"`, len(s.IndexHTML))

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(s.IndexHTML)
}
