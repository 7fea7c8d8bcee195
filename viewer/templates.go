package viewer

import "html/template"

const layout = `{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:60rem;margin:2rem auto;padding:0 1rem;color:#222}
.msg{border-bottom:1px solid #eee;padding:.5rem 0}
.meta{color:#777;font-size:.85rem}
.embed{border-left:3px solid #5865f2;margin:.25rem 0;padding:.25rem .5rem;background:#f6f6fb}
pre{white-space:pre-wrap;margin:.25rem 0;font-family:inherit}
</style>
</head>
<body>
{{end}}
{{define "foot"}}</body>
</html>
{{end}}`

const listTmpl = `{{template "head" "Chat backups"}}<h1>Chat backups</h1>
{{if not .Groups}}<p>No backups yet.</p>{{end}}
{{range .Groups}}<section>
<h2>#{{.ChannelID}}</h2>
<ul>
{{range .Entries}}<li><a href="{{.DetailURL}}">{{.CreatedAt.Format "2006-01-02 15:04:05 UTC"}}</a> <small>(<a href="{{.RawURL}}">raw</a>)</small></li>
{{end}}</ul>
</section>
{{end}}{{template "foot"}}`

const detailTmpl = `{{template "head" .Title}}<p><a href="{{.ListURL}}">&larr; all backups</a></p>
<h1>#{{.ChannelID}}</h1>
<p class="meta">Captured {{.CreatedAt.Format "2006-01-02 15:04:05 UTC"}} &middot; {{len .Messages}} messages &middot; <a href="{{.RawURL}}">raw</a></p>
{{range .Messages}}<div class="msg">
<div class="meta"><strong>{{.Author}}</strong> {{.Timestamp.Format "2006-01-02 15:04:05"}}</div>
<pre>{{.Content}}</pre>
{{range .Embeds}}<div class="embed">{{if .Title}}<strong>{{.Title}}</strong><br>{{end}}{{.Description}}</div>
{{end}}</div>
{{end}}{{template "foot"}}`

const errorTmpl = `{{template "head" .Title}}<h1>{{.Title}}</h1>
<p>{{.Reason}}</p>
<p><a href="{{.ListURL}}">&larr; all backups</a></p>
{{template "foot"}}`

var (
	listPage   = template.Must(template.Must(template.New("layout").Parse(layout)).New("list").Parse(listTmpl))
	detailPage = template.Must(template.Must(template.New("layout").Parse(layout)).New("detail").Parse(detailTmpl))
	errorPage  = template.Must(template.Must(template.New("layout").Parse(layout)).New("error").Parse(errorTmpl))
)
