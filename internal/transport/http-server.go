package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator"
	"github.com/go-resty/resty/v2"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smartmark-io/smartmark-back/internal/auth"
	"github.com/smartmark-io/smartmark-back/internal/config"
	"github.com/smartmark-io/smartmark-back/internal/db"
	"github.com/smartmark-io/smartmark-back/internal/service"
)

const (
	sessionCookieName = "smartmark_session"
	stateCookieName   = "oauth_state"

	faviconUpstream = "https://www.google.com/s2/favicons"
)

type (
	BookmarkReq struct {
		Title string `json:"title" form:"title" validate:"required"`
		URL   string `json:"url" form:"url" validate:"required"`
	}

	BookmarkListReq struct {
		Query string `json:"query"`
	}

	BookmarkResp struct {
		ID        uint64    `json:"id"`
		Title     string    `json:"title"`
		URL       string    `json:"url"`
		CreatedAt time.Time `json:"created_at"`
	}

	SessionResp struct {
		ID    uint64 `json:"id"`
		Email string `json:"email"`
	}

	CustomValidator struct {
		validator *validator.Validate
	}

	// IdentityProvider is the slice of the OAuth provider the server needs.
	// *auth.GoogleProvider satisfies it.
	IdentityProvider interface {
		AuthCodeURL(state string) string
		FetchIdentity(ctx context.Context, code string) (*auth.Identity, error)
	}

	HTTPServer struct {
		sessions  *auth.Sessions
		bookmarks *service.Bookmarks
		google    IdentityProvider
		logger    *zap.SugaredLogger
		favicons  *resty.Client
	}
)

func NewHTTPServer(lc fx.Lifecycle, cfg *config.Config, sessions *auth.Sessions, bookmarks *service.Bookmarks, google *auth.GoogleProvider, logger *zap.SugaredLogger) *HTTPServer {
	instance := HTTPServer{
		sessions:  sessions,
		bookmarks: bookmarks,
		google:    google,
		logger:    logger,
		favicons:  resty.New(),
	}

	e := echo.New()
	instance.Register(e)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				listen := cfg.Host + ":" + cfg.Port
				if err := e.Start(listen); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal("shutting down the server")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server.")
			return e.Shutdown(ctx)
		},
	})

	return &instance
}

// Register wires routes and middleware onto an echo instance. Split out of
// the constructor so handler tests can run without the fx lifecycle.
func (s *HTTPServer) Register(e *echo.Echo) {
	e.Renderer = NewRenderer()

	e.GET("/", s.Index)

	e.GET("/auth/login", s.AuthLogin)
	e.GET("/auth/callback", s.AuthCallback)
	e.POST("/auth/logout", s.AuthLogout)

	e.GET("/session", s.Session)

	bookmarkG := e.Group("/bookmark")
	bookmarkG.POST("/list", s.BookmarkList)
	bookmarkG.POST("", s.BookmarkCreate)
	bookmarkG.PATCH("/:id", s.BookmarkUpdate)
	bookmarkG.DELETE("/:id", s.BookmarkDelete)
	bookmarkG.POST("/form", s.BookmarkFormSubmit)
	bookmarkG.POST("/:id/delete", s.BookmarkFormDelete)

	e.GET("/favicon", s.Favicon)
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyDump(func(c echo.Context, reqBody, resBody []byte) {
		if len(reqBody) > 0 {
			s.logger.Debugw("request body", "path", c.Path(), "body", string(censorBody(reqBody)))
		}
	}))

	e.Use(s.AuthMiddleware)

	e.Validator = &CustomValidator{validator: validator.New()}

	echo.NotFoundHandler = func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	}
}

// Index renders the page: a sign-in prompt without a session, the bookmark
// view with one. The two are mutually exclusive.
func (s *HTTPServer) Index(c echo.Context) error {
	user, err := s.sessions.Current(c.Request().Context(), sessionToken(c))
	if err != nil {
		if !errors.Is(err, auth.ErrNoSession) && !errors.Is(err, auth.ErrSessionExpired) {
			// Store trouble reads as "no session" rather than a dead page.
			s.logger.Errorw("resolve session", "err", err)
		}
		return c.Render(http.StatusOK, "index", LoginView())
	}

	bookmarks, err := s.bookmarks.List(c.Request().Context(), user)
	if err != nil {
		return err
	}

	query := c.QueryParam("q")
	bookmarks = service.Filter(bookmarks, query)

	data := AppView(user, bookmarks, query, c.QueryParam("saved") == "1")

	if editID, err := strconv.ParseUint(c.QueryParam("edit"), 10, 64); err == nil {
		data.BeginEdit(editID)
	}

	return c.Render(http.StatusOK, "index", data)
}

func (s *HTTPServer) AuthLogin(c echo.Context) error {
	state := auth.GenerateState()
	c.SetCookie(&http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, s.google.AuthCodeURL(state))
}

func (s *HTTPServer) AuthCallback(c echo.Context) error {
	stateCookie, err := c.Cookie(stateCookieName)
	// The state is single-use. Drop the cookie up front, before any
	// redirect commits the response headers.
	clearCookie(c, stateCookieName)

	if err != nil || stateCookie.Value == "" || stateCookie.Value != c.QueryParam("state") {
		return echo.NewHTTPError(http.StatusBadRequest, "oauth state mismatch")
	}

	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing oauth code")
	}

	identity, err := s.google.FetchIdentity(c.Request().Context(), code)
	if err != nil {
		return errors.Wrap(err, "fetch identity")
	}

	user, err := s.sessions.GetOrCreateUser(c.Request().Context(), identity)
	if err != nil {
		return errors.Wrap(err, "get or create user")
	}

	token, err := s.sessions.Issue(c.Request().Context(), user)
	if err != nil {
		return errors.Wrap(err, "issue session")
	}

	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return c.Redirect(http.StatusFound, "/")
}

func (s *HTTPServer) AuthLogout(c echo.Context) error {
	if token := sessionToken(c); token != "" {
		if err := s.sessions.Revoke(c.Request().Context(), token); err != nil {
			s.logger.Errorw("revoke session", "err", err)
		}
	}
	clearCookie(c, sessionCookieName)
	return c.Redirect(http.StatusFound, "/")
}

func (s *HTTPServer) Session(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SessionResp{
		ID:    user.ID,
		Email: user.Email,
	})
}

func (s *HTTPServer) BookmarkList(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := BookmarkListReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	bookmarks, err := s.bookmarks.List(c.Request().Context(), user)
	if err != nil {
		return err
	}
	bookmarks = service.Filter(bookmarks, req.Query)

	resp := make([]BookmarkResp, len(bookmarks))
	for i := range bookmarks {
		resp[i] = BookmarkResp{
			ID:        bookmarks[i].ID,
			Title:     bookmarks[i].Title,
			URL:       bookmarks[i].URL,
			CreatedAt: bookmarks[i].CreatedAt,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) BookmarkCreate(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := BookmarkReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	model, err := s.bookmarks.Create(c.Request().Context(), user, req.Title, req.URL)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, BookmarkResp{
		ID:        model.ID,
		Title:     model.Title,
		URL:       model.URL,
		CreatedAt: model.CreatedAt,
	})
}

func (s *HTTPServer) BookmarkUpdate(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := BookmarkReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	model, err := s.bookmarks.Update(c.Request().Context(), user, id, req.Title, req.URL)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, BookmarkResp{
		ID:        model.ID,
		Title:     model.Title,
		URL:       model.URL,
		CreatedAt: model.CreatedAt,
	})
}

func (s *HTTPServer) BookmarkDelete(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	if err := s.bookmarks.Delete(c.Request().Context(), user, id); err != nil {
		// Deleting an already-gone row counts as success.
		if !errors.Is(err, service.ErrNotFound) {
			return mapServiceError(err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// BookmarkFormSubmit backs the rendered page's add/edit form. An "editing"
// field distinguishes commit-edit from add.
func (s *HTTPServer) BookmarkFormSubmit(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := BookmarkReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	if editing := c.FormValue("editing"); editing != "" {
		id, err := strconv.ParseUint(editing, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid edit target")
		}
		if _, err := s.bookmarks.Update(c.Request().Context(), user, id, req.Title, req.URL); err != nil {
			return mapServiceError(err)
		}
		return c.Redirect(http.StatusFound, "/")
	}

	if _, err := s.bookmarks.Create(c.Request().Context(), user, req.Title, req.URL); err != nil {
		return mapServiceError(err)
	}
	return c.Redirect(http.StatusFound, "/?saved=1")
}

func (s *HTTPServer) BookmarkFormDelete(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	if err := s.bookmarks.Delete(c.Request().Context(), user, id); err != nil {
		if !errors.Is(err, service.ErrNotFound) {
			return mapServiceError(err)
		}
	}
	return c.Redirect(http.StatusFound, "/")
}

// Favicon proxies the third-party favicon service for the given domain.
// Upstream failures pass through as-is; there is no fallback image.
func (s *HTTPServer) Favicon(c echo.Context) error {
	domain := c.QueryParam("domain")
	if domain == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing query param 'domain'")
	}

	resp, err := s.favicons.R().
		SetContext(c.Request().Context()).
		SetQueryParams(map[string]string{
			"domain": domain,
			"sz":     "32",
		}).
		Get(faviconUpstream)
	if err != nil {
		return errors.Wrap(err, "fetch favicon")
	}

	return c.Blob(resp.StatusCode(), resp.Header().Get(echo.HeaderContentType), resp.Body())
}

func (s *HTTPServer) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		switch c.Path() {
		case "/", "/auth/login", "/auth/callback", "/auth/logout", "/favicon", "/ping":
			return next(c)
		}

		user, err := s.sessions.Current(c.Request().Context(), sessionToken(c))
		if err != nil {
			if !errors.Is(err, auth.ErrNoSession) && !errors.Is(err, auth.ErrSessionExpired) {
				s.logger.Errorw("resolve session", "err", err)
			}
			return c.NoContent(http.StatusUnauthorized)
		}

		c.Set("user", user)
		return next(c)
	}
}

////////

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func BindAndValidate(c echo.Context, v interface{}) error {
	var err error
	if err = c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func GetUserFromContext(c echo.Context) (*db.User, error) {
	user, _ := c.Get("user").(*db.User)
	if user == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	return user, nil
}

func GetParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return value, nil
}

func GetAndParseParam(c echo.Context, name string) (uint64, error) {
	v, e := GetParam(c, name)
	if e != nil {
		return 0, e
	}
	vv, e := strconv.ParseUint(v, 10, 64)
	if e != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return vv, nil
}

// sessionToken pulls the session token from the cookie, falling back to the
// X-Token header for non-browser clients.
func sessionToken(c echo.Context) string {
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return c.Request().Header.Get("X-Token")
}

func clearCookie(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, service.ErrEmptyTitle), errors.Is(err, service.ErrInvalidURL):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrMutationInFlight):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}

// censorBody blanks out credential-bearing fields before a request body is
// logged.
func censorBody(body []byte) []byte {
	parsed := map[string]interface{}{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body
	}
	for _, key := range []string{"token", "code", "password"} {
		if _, ok := parsed[key]; ok {
			parsed[key] = "$censored"
		}
	}
	censored, err := json.Marshal(parsed)
	if err != nil {
		return body
	}
	return censored
}

// FaviconProxyURL is where the rendered page sources list item icons from.
func FaviconProxyURL(bookmarkURL string) string {
	u, err := url.Parse(bookmarkURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return "/favicon?domain=" + url.QueryEscape(u.Host)
}
