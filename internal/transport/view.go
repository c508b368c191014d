package transport

import (
	"html/template"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/smartmark-io/smartmark-back/internal/db"
)

type (
	// Renderer plugs html/template into echo.
	Renderer struct {
		templates *template.Template
	}

	ItemView struct {
		ID         uint64
		Title      string
		URL        string
		FaviconURL string
	}

	// PageData drives the single page template. LoggedIn selects between the
	// sign-in prompt and the bookmark view; the rest only matters when true.
	PageData struct {
		LoggedIn  bool
		Email     string
		Query     string
		Saved     bool
		EditingID uint64
		FormTitle string
		FormURL   string
		Items     []ItemView
	}
)

func NewRenderer() *Renderer {
	return &Renderer{
		templates: template.Must(template.New("index").Parse(indexTemplate)),
	}
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

func LoginView() *PageData {
	return &PageData{}
}

func AppView(user *db.User, bookmarks []db.Bookmark, query string, saved bool) *PageData {
	items := make([]ItemView, len(bookmarks))
	for i := range bookmarks {
		items[i] = ItemView{
			ID:         bookmarks[i].ID,
			Title:      bookmarks[i].Title,
			URL:        bookmarks[i].URL,
			FaviconURL: FaviconProxyURL(bookmarks[i].URL),
		}
	}
	return &PageData{
		LoggedIn: true,
		Email:    user.Email,
		Query:    query,
		Saved:    saved,
		Items:    items,
	}
}

// BeginEdit pre-fills the form from the targeted item, if it is present in
// the rendered list.
func (d *PageData) BeginEdit(id uint64) {
	for i := range d.Items {
		if d.Items[i].ID == id {
			d.EditingID = id
			d.FormTitle = d.Items[i].Title
			d.FormURL = d.Items[i].URL
			return
		}
	}
}

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Smart Bookmark</title>
<style>
body { background: #0b0b0c; color: #e5e5e5; font-family: sans-serif; display: flex; justify-content: center; }
.card { width: 440px; background: #121214; border: 1px solid rgba(255,255,255,.1); border-radius: 16px; padding: 2rem; margin-top: 4rem; }
input { background: #1a1a1c; border: 1px solid rgba(255,255,255,.1); color: inherit; padding: .5rem; width: 100%; margin-bottom: .5rem; border-radius: 6px; box-sizing: border-box; }
button { cursor: pointer; }
.primary { width: 100%; background: #7c3aed; color: #fff; border: none; padding: .5rem; border-radius: 6px; }
.success { color: #4ade80; text-align: center; }
.item { display: flex; justify-content: space-between; align-items: center; background: #1a1a1c; border: 1px solid rgba(255,255,255,.1); border-radius: 6px; padding: .5rem .75rem; margin-bottom: .5rem; }
.item img { width: 16px; height: 16px; margin-right: .5rem; vertical-align: middle; }
.item a { color: #e5e5e5; text-decoration: none; }
.actions form { display: inline; }
.actions a, .actions button { background: none; border: none; font-size: .75rem; color: #60a5fa; }
.actions button { color: #f87171; }
.muted { color: #9ca3af; text-align: center; }
.list { max-height: 16rem; overflow-y: auto; }
.header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 1rem; }
.header button { background: none; border: none; color: #f87171; font-size: .75rem; }
</style>
</head>
<body>
<div class="card">
{{if not .LoggedIn}}
	<h1>Smart Bookmark</h1>
	<p class="muted">Save and organize your links securely.</p>
	<a href="/auth/login"><button class="primary">Continue with Google</button></a>
{{else}}
	<div class="header">
		<span class="muted">{{.Email}}</span>
		<form method="post" action="/auth/logout"><button type="submit">Logout</button></form>
	</div>

	{{if .Saved}}<p class="success" id="saved-note">Bookmark saved ✓</p>{{end}}

	<form method="post" action="/bookmark/form">
		{{if .EditingID}}<input type="hidden" name="editing" value="{{.EditingID}}">{{end}}
		<input name="title" placeholder="Bookmark title" value="{{.FormTitle}}" required>
		<input name="url" placeholder="https://example.com" value="{{.FormURL}}" required>
		<button class="primary" type="submit">{{if .EditingID}}Update Bookmark{{else}}Add Bookmark{{end}}</button>
	</form>

	<form method="get" action="/">
		<input name="q" placeholder="Search bookmarks..." value="{{.Query}}">
	</form>

	<div class="list">
	{{if not .Items}}<p class="muted">No bookmarks yet</p>{{end}}
	{{range .Items}}
		<div class="item">
			<span>
				{{if .FaviconURL}}<img src="{{.FaviconURL}}" alt="">{{end}}
				<a href="{{.URL}}" target="_blank" rel="noopener">{{.Title}}</a>
			</span>
			<span class="actions">
				<a href="/?edit={{.ID}}">Edit</a>
				<form method="post" action="/bookmark/{{.ID}}/delete"><button type="submit">Delete</button></form>
			</span>
		</div>
	{{end}}
	</div>

	{{if .Saved}}
	<script>
	setTimeout(function () {
		var n = document.getElementById("saved-note");
		if (n) { n.remove(); }
		history.replaceState(null, "", "/");
	}, 1500);
	</script>
	{{end}}
{{end}}
</div>
</body>
</html>
`
