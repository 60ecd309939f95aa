package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/todosync/internal/middleware"
	"github.com/hitoshi/todosync/internal/model"
)

// AuthHandler は認証操作のHTTPハンドラー。
// 結果のエラー文言はセッションコントローラのエラースロットに保持され、
// リダイレクト後のページ描画で表示される。
type AuthHandler struct {
	session SessionServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessionSvc SessionServiceInterface) *AuthHandler {
	return &AuthHandler{session: sessionSvc}
}

// MagicLink はワンタイムサインインリンクの送信を要求する。
// POST /auth/magiclink
func (h *AuthHandler) MagicLink(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	if email == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email is required"))
		return
	}

	h.session.SubmitMagicLink(r.Context(), email)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// PasswordSignIn は保存済みの資格情報で認証する。
// POST /auth/signin
func (h *AuthHandler) PasswordSignIn(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email and password are required"))
		return
	}

	h.session.SubmitPasswordSignIn(r.Context(), email, password)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SignUp は新規の資格情報付きアイデンティティを登録する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email and password are required"))
		return
	}

	h.session.SubmitSignUp(r.Context(), email, password)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GoogleSignIn は第三者IDプロバイダへリダイレクトする。
// GET /auth/google
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	redirectURL := h.session.SubmitGoogleSignIn()
	if redirectURL == "" {
		// エラースロットに文言が入っているのでページに戻して表示する
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
}

// SignOut は現在のセッションを失効させる。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.session.SignOut(r.Context())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
