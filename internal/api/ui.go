package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"galleryfetch/internal/task"
)

var uiTemplates = template.Must(template.New("layout").Funcs(template.FuncMap{
	"bytes": func(n int64) string { return humanize.IBytes(uint64(max(n, 0))) },
	"ago":   humanize.Time,
}).Parse(`{{define "layout"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>galleryfetch</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:960px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:8px;flex-wrap:wrap}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:8px 12px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    textarea{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;width:100%;min-height:96px;box-sizing:border-box}
    table{width:100%;border-collapse:collapse}
    td,th{text-align:left;padding:6px 4px;border-bottom:1px solid #efefef;font-size:14px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">galleryfetch</a></h1>
    <div class="muted">Workers: {{.Scheduler.Workers}} · queued: {{.Scheduler.Queued}} · active: {{.Scheduler.Active}} · {{if .Scheduler.Running}}running{{else}}stopped{{end}}</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  {{if .Task}}{{template "content-task" .}}{{else}}{{template "content-home" .}}{{end}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "content-home"}}
  <div class="card">
    <h2>Add galleries</h2>
    <form method="post" action="/ui/tasks">
      <textarea name="urls" placeholder="One URL per line"></textarea>
      <div class="row" style="margin-top:8px">
        <label><input type="checkbox" name="enqueue" value="true" checked/> queue for download</label>
        <button class="btn" type="submit">Add</button>
      </div>
    </form>
  </div>

  <div class="card">
    <div class="row">
      <form method="post" action="/ui/scheduler/start"><button class="btn" type="submit">Start</button></form>
      <form method="post" action="/ui/scheduler/stop"><button class="btn secondary" type="submit">Stop</button></form>
    </div>
  </div>

  <div class="card">
    <h2>Tasks</h2>
    {{if .Tasks}}
    <table>
      <tr><th>Title</th><th>Status</th><th>Progress</th><th>Pages</th><th>Size</th></tr>
      {{range .Tasks}}
      <tr>
        <td><a href="/ui/tasks/{{.ID}}">{{if .Title}}{{.Title}}{{else}}{{.URL}}{{end}}</a></td>
        <td><span class="status">{{.Status}}</span></td>
        <td>{{.Progress}}%</td>
        <td>{{.CurrentPage}}/{{.TotalPages}}</td>
        <td>{{bytes .DownloadedBytes}}</td>
      </tr>
      {{end}}
    </table>
    {{else}}
    <div class="muted">No tasks yet</div>
    {{end}}
  </div>
{{end}}

{{define "content-task"}}
  <div class="card">
    <h2>{{if .Task.Title}}{{.Task.Title}}{{else}}Task <span class="mono">{{.Task.ID}}</span>{{end}}</h2>
    <div class="mono muted">{{.Task.URL}}</div>
    <div>Status: <span class="status">{{.Task.Status}}</span> · {{.Task.Progress}}%</div>
    <div>Adapter: {{if .Task.Adapter}}{{.Task.Adapter}}{{else}}<span class="muted">none</span>{{end}}</div>
    <div>Pages: {{.Task.CurrentPage}}/{{.Task.TotalPages}} · {{bytes .Task.DownloadedBytes}}</div>
    <div>Retries: {{.Task.RetryCount}}/{{.Task.MaxRetries}}</div>
    {{if .Task.Error}}<div style="color:#b3261e">{{.Task.Error}}</div>{{end}}
    <div class="muted">Created {{ago .Task.CreatedAt}}</div>
  </div>

  <div class="card">
    <div class="row">
      {{range .Actions}}
      <form method="post" action="/ui/tasks/{{$.Task.ID}}/{{.}}"><button class="btn" type="submit">{{.}}</button></form>
      {{end}}
      <form method="post" action="/ui/tasks/{{.Task.ID}}/remove"><button class="btn secondary" type="submit">remove</button></form>
      <a class="btn secondary" href="/ui/tasks/{{.Task.ID}}">refresh</a>
    </div>
  </div>

  {{if eq .Task.Status "completed"}}
  <div class="card">
    <a class="btn" href="/api/v1/tasks/{{.Task.ID}}/archive">Download .cbz</a>
    <span class="muted" style="margin-left:8px">{{.Task.Dir}}</span>
  </div>
  {{end}}
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/tasks", a.UISubmit)
	router.GET("/ui/tasks/:id", a.UITask)
	router.POST("/ui/tasks/:id/:action", a.UITaskAction)
	router.POST("/ui/scheduler/:action", a.UIScheduler)
}

// UIHome renders the task list
func (a *API) UIHome(c *gin.Context) { a.renderHome(c, http.StatusOK, "") }

func (a *API) renderHome(c *gin.Context, status int, errMsg string) {
	c.HTML(status, "layout", gin.H{
		"Scheduler": a.taskManager.State(),
		"Tasks":     a.taskManager.List(),
		"Error":     errMsg,
	})
}

// UISubmit adds the URLs from the textarea and goes back home
func (a *API) UISubmit(c *gin.Context) {
	urls := strings.Fields(c.PostForm("urls"))
	if len(urls) == 0 {
		a.renderHome(c, http.StatusBadRequest, task.ErrNoURLs.Error())
		return
	}
	added, _ := a.taskManager.SubmitMany(urls, c.PostForm("enqueue") == "true")
	if len(added) == 0 {
		a.renderHome(c, http.StatusBadRequest, "no new valid urls")
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// UITask renders a task page
func (a *API) UITask(c *gin.Context) {
	id := c.Param("id")
	snap, err := a.taskManager.Get(id)
	if err != nil {
		a.renderHome(c, http.StatusNotFound, "task not found")
		return
	}
	a.renderTask(c, http.StatusOK, snap, "")
}

func (a *API) renderTask(c *gin.Context, status int, snap task.Snapshot, errMsg string) {
	c.HTML(status, "layout", gin.H{
		"Scheduler": a.taskManager.State(),
		"Task":      snap,
		"Actions":   actionsFor(snap.Status),
		"Error":     errMsg,
	})
}

// UITaskAction applies a button press and redirects back to the task
func (a *API) UITaskAction(c *gin.Context) {
	id := c.Param("id")
	var err error
	switch c.Param("action") {
	case "enqueue":
		err = a.taskManager.Enqueue(id)
	case "pause":
		err = a.taskManager.Pause(id)
	case "resume":
		err = a.taskManager.Resume(id)
	case "retry":
		err = a.taskManager.Retry(id)
	case "info":
		err = a.taskManager.FetchInfoAsync(id)
	case "remove":
		if err = a.taskManager.Remove(id); err == nil {
			c.Redirect(http.StatusFound, "/")
			return
		}
	default:
		c.Redirect(http.StatusFound, "/ui/tasks/"+id)
		return
	}
	if err != nil {
		snap, getErr := a.taskManager.Get(id)
		if getErr != nil {
			a.renderHome(c, http.StatusNotFound, "task not found")
			return
		}
		a.renderTask(c, http.StatusConflict, snap, err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+id)
}

// UIScheduler starts or stops the worker pool
func (a *API) UIScheduler(c *gin.Context) {
	switch c.Param("action") {
	case "start":
		a.taskManager.Start()
	case "stop":
		a.taskManager.Stop()
	}
	c.Redirect(http.StatusFound, "/")
}

func actionsFor(status task.Status) []string {
	var out []string
	if task.CanTransition(status, task.StatusPaused) {
		out = append(out, "pause")
	}
	switch status {
	case task.StatusQueued:
		out = append(out, "enqueue", "info")
	case task.StatusPaused:
		out = append(out, "resume", "info")
	case task.StatusError:
		out = append(out, "retry")
	}
	return out
}
