package handler

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/todosync/internal/model"
	"github.com/hitoshi/todosync/internal/session"
)

// pageTemplate は唯一のページのマークアップ。
// 認証状態に応じてloading / サインインフォーム / Todo一覧を出し分ける。
// EventSourceで/eventsを購読し、変更通知のたびにページを再読込する。
const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Todo Sync</title>
</head>
<body>
<h1>Todo Sync</h1>
{{if eq .Session.State.String "loading"}}
<p>Loading...</p>
{{else if eq .Session.State.String "unauthenticated"}}
<form method="post" action="/auth/magiclink">
  <input type="email" name="email" placeholder="Your email" {{if .Session.Cooldown}}disabled{{end}} required>
  <button type="submit" {{if or .Session.Cooldown .Session.Busy}}disabled{{end}}>Send Magic Link</button>
</form>
<form method="post" action="/auth/signin">
  <input type="email" name="email" placeholder="Your email" required>
  <input type="password" name="password" placeholder="Password" required>
  <button type="submit" {{if .Session.Busy}}disabled{{end}}>Sign In</button>
  <button type="submit" formaction="/auth/signup" {{if .Session.Busy}}disabled{{end}}>Sign Up</button>
</form>
<p><a href="/auth/google">Sign in with Google</a></p>
{{if .Session.ErrorMessage}}<p class="error">{{.Session.ErrorMessage}}</p>{{end}}
{{if .Session.InfoMessage}}<p class="info">{{.Session.InfoMessage}}</p>{{end}}
{{else}}
<div>
  <span>Logged in as: {{.Session.UserEmail}}</span>
  <form method="post" action="/auth/signout"><button type="submit">Sign Out</button></form>
</div>
<form method="post" action="/todos">
  <input type="text" name="task" value="{{.Task}}" placeholder="Add a new todo">
  <button type="submit">Add</button>
</form>
<ul>
{{range .Todos}}
  <li>
    <form method="post" action="/todos/{{.ID}}/toggle">
      <button type="submit">{{if .IsCompleted}}&#9745;{{else}}&#9744;{{end}}</button>
    </form>
    {{if .IsCompleted}}<s>{{.Task}}</s>{{else}}{{.Task}}{{end}}
    <form method="post" action="/todos/{{.ID}}/delete"><button type="submit">Delete</button></form>
  </li>
{{end}}
</ul>
{{end}}
<script>
new EventSource("/events").onmessage = function () { location.reload(); };
</script>
</body>
</html>
`

// pageData はページテンプレートに渡すデータ。
type pageData struct {
	Session session.View
	Todos   []model.Todo
	// Task は入力欄に残すテキスト。作成失敗時の再送信に使う。
	Task string
}

// PageHandler は唯一のページを描画するハンドラー。
type PageHandler struct {
	session SessionServiceInterface
	todos   TodoServiceInterface
	tmpl    *template.Template
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(sessionSvc SessionServiceInterface, todos TodoServiceInterface) *PageHandler {
	return &PageHandler{
		session: sessionSvc,
		todos:   todos,
		tmpl:    template.Must(template.New("page").Parse(pageTemplate)),
	}
}

// Show は現在のセッション状態と一覧でページを描画する。
// GET /
func (h *PageHandler) Show(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Session: h.session.Snapshot(),
		Task:    r.URL.Query().Get("task"),
	}
	if data.Session.State == session.StateAuthenticated {
		data.Todos = h.todos.Items()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		slog.Error("failed to render page", slog.String("error", err.Error()))
	}
}
