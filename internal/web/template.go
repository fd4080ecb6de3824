package web

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>PDF Q&amp;A Agent</title>
<style>
body { font-family: sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; }
.source { border-left: 3px solid #ccc; padding-left: .75rem; margin: .5rem 0; color: #444; }
.error { color: #b00020; }
progress { width: 100%; }
</style>
</head>
<body>
<h1>PDF Q&amp;A Agent</h1>

<form action="/upload" method="post" enctype="multipart/form-data">
  <input type="file" name="file" accept=".pdf,.docx,.pptx,.xlsx,.ods,.txt,.md" required>
  <button type="submit">Upload</button>
</form>

{{with .Progress}}
  {{if eq .Status "processing"}}
    <p>Processing {{.File}}: {{.Done}} / {{.Total}} chunks</p>
    <progress value="{{.Done}}" max="{{.Total}}"></progress>
    <script>setTimeout(function () { location.reload(); }, 1500);</script>
  {{else if eq .Status "failed"}}
    <p class="error">Failed to process {{.File}}: {{.Error}}</p>
  {{end}}
{{end}}

{{if .Ready}}
  <p>Loaded: <strong>{{.Source}}</strong></p>
  <form action="/ask" method="post">
    <input type="text" name="question" size="60" placeholder="Ask a question, or e.g. 5 question" required>
    <input type="number" name="top_k" min="1" max="20" value="{{.TopK}}">
    <button type="submit">Ask</button>
  </form>
{{else}}
  <p>Upload a document to start asking questions.</p>
{{end}}

{{if .Error}}<p class="error">{{.Error}}</p>{{end}}

{{with .Answer}}
  <h2>Answer</h2>
  {{if ne .ResolvedQuestion .Question}}<p><em>{{.ResolvedQuestion}}</em></p>{{end}}
  <div>{{.AnswerHTML}}</div>
  {{if .Sources}}
    <h3>Sources</h3>
    {{range .Sources}}
      <div class="source"><strong>Page {{.Page}}</strong>{{if .File}} ({{.File}}){{end}}: {{.Snippet}}...</div>
    {{end}}
  {{end}}
{{end}}

{{if .History}}
  <h2>History</h2>
  {{range .History}}
    <details>
      <summary>{{.AskedAt}} {{.Question}}</summary>
      <div>{{.AnswerHTML}}</div>
    </details>
  {{end}}
{{end}}
</body>
</html>
`
