package ddp

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pfrederiksen/ddp-go/internal/backoff"
	"github.com/pfrederiksen/ddp-go/tracker"
)

// LoginSelector identifies the account a password login targets (spec.md
// §4.9: "selector is either {username}/{email} or a string split on @").
type LoginSelector struct {
	Username string
	Email    string
}

// ParseLoginSelector builds a LoginSelector from a bare identifier string,
// treating anything containing "@" as an email.
func ParseLoginSelector(raw string) LoginSelector {
	if strings.Contains(raw, "@") {
		return LoginSelector{Email: raw}
	}
	return LoginSelector{Username: raw}
}

func (s LoginSelector) wireValue() interface{} {
	if s.Email != "" {
		return map[string]interface{}{"email": s.Email}
	}
	return map[string]interface{}{"username": s.Username}
}

// rate-limit / resume-rejection classification constants (spec.md §4.9).
var resumeRejectionErrors = map[string]bool{
	"403":                   true,
	"token-expired":         true,
	"not-authorized":        true,
	"incorrect-auth-token":  true,
}

// AuthController implements spec.md §4.9: password/2FA/token-resume login,
// logout, and the retry/backoff/classification rules around loginWithToken.
type AuthController struct {
	graph   *tracker.Graph
	conn    AuthCaller
	hasher  PasswordHasher
	storage KeyStorage
	log     FieldLogger

	retry *backoff.Schedule

	mu             sync.Mutex
	isLoggedIn     bool
	isCallingLogin bool
	isLoggingOut   bool
	userID         string
	token          string
	tokenExpires   *time.Time

	userIDDep       *tracker.Dependency
	tokenExpiresDep *tracker.Dependency

	onLogin        func(userID string)
	onLoginFailure func(err *Error)
	onLogout       func()
}

// AuthCaller is the narrow slice of Conn that AuthController needs, so it
// can be unit tested against a fake rather than a live Conn.
type AuthCaller interface {
	Call(method string, params []interface{}, cb ResultCallback) (string, error)
	MarkLoginMethod(id string)
}

// NewAuthController builds an AuthController that sends login/logout
// methods through conn, persists tokens through storage, and wires its
// reactive userID/tokenExpires state into graph.
func NewAuthController(graph *tracker.Graph, conn AuthCaller, storage KeyStorage, log FieldLogger) *AuthController {
	if log == nil {
		log = defaultLogger()
	}
	return &AuthController{
		graph:           graph,
		conn:            conn,
		hasher:          DefaultPasswordHasher(),
		storage:         storage,
		log:             log,
		retry:           backoff.New(),
		userIDDep:       graph.NewDependency(),
		tokenExpiresDep: graph.NewDependency(),
	}
}

// OnLogin registers the handler fired after a successful login or resume.
func (a *AuthController) OnLogin(fn func(userID string)) { a.onLogin = fn }

// OnLoginFailure registers the handler fired on any login/resume failure.
func (a *AuthController) OnLoginFailure(fn func(err *Error)) { a.onLoginFailure = fn }

// OnLogout registers the handler fired after logout completes.
func (a *AuthController) OnLogout(fn func()) { a.onLogout = fn }

// UserID reactively reads the current user id, wiring the calling
// computation (if any) to future login/logout transitions.
func (a *AuthController) UserID() string {
	a.userIDDep.Depend()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

// LoginTokenExpires reactively reads the current token's expiry, or nil if
// not logged in.
func (a *AuthController) LoginTokenExpires() *time.Time {
	a.tokenExpiresDep.Depend()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokenExpires
}

// IsLoggedIn reports whether a session is currently established.
func (a *AuthController) IsLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isLoggedIn
}

// LoggingIn reports whether a login or token-resume call is outstanding.
func (a *AuthController) LoggingIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isCallingLogin
}

// LoggingOut reports whether a logout call is outstanding.
func (a *AuthController) LoggingOut() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isLoggingOut
}

// GetAuthToken returns the current resume token, or "" if none.
func (a *AuthController) GetAuthToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// LoginWithPassword implements spec.md §4.9's loginWithPassword.
func (a *AuthController) LoginWithPassword(selector LoginSelector, password string, cb func(err *Error)) {
	a.loginWithPasswordParams(selector, password, "", cb)
}

// LoginWithPasswordAnd2faCode implements spec.md §4.9's
// loginWithPasswordAnd2faCode.
func (a *AuthController) LoginWithPasswordAnd2faCode(selector LoginSelector, password, code string, cb func(err *Error)) {
	a.loginWithPasswordParams(selector, password, code, cb)
}

func (a *AuthController) loginWithPasswordParams(selector LoginSelector, password, code string, cb func(err *Error)) {
	params := map[string]interface{}{
		"user":     selector.wireValue(),
		"password": a.hasher.Hash(password),
	}
	if code != "" {
		params["code"] = code
	}

	a.mu.Lock()
	a.isCallingLogin = true
	a.mu.Unlock()

	id, err := a.conn.Call("login", []interface{}{params}, func(rawErr *Error, result interface{}) {
		a.mu.Lock()
		a.isCallingLogin = false
		a.mu.Unlock()
		a.handleLoginResult(rawErr, result, cb)
	})
	if err != nil {
		a.mu.Lock()
		a.isCallingLogin = false
		a.mu.Unlock()
		failure := &Error{Err: "send_failed", Message: err.Error()}
		a.emitLoginFailure(failure)
		if cb != nil {
			cb(failure)
		}
		return
	}
	a.conn.MarkLoginMethod(id)
}

// LoginWithToken implements spec.md §4.9's loginWithToken, including the
// rate-limit / resume-rejection / other-error classification.
func (a *AuthController) LoginWithToken(token string) {
	a.mu.Lock()
	if a.isCallingLogin {
		a.mu.Unlock()
		return
	}
	if strings.TrimSpace(token) == "" {
		a.isLoggedIn = false
		a.mu.Unlock()
		return
	}
	a.isCallingLogin = true
	a.mu.Unlock()

	id, err := a.conn.Call("login", []interface{}{map[string]interface{}{"resume": token}}, func(rawErr *Error, result interface{}) {
		a.mu.Lock()
		a.isCallingLogin = false
		a.mu.Unlock()
		a.handleTokenLoginResult(token, rawErr, result)
	})
	if err != nil {
		a.mu.Lock()
		a.isCallingLogin = false
		a.mu.Unlock()
		a.emitLoginFailure(&Error{Err: "send_failed", Message: err.Error()})
		return
	}
	a.conn.MarkLoginMethod(id)
}

func (a *AuthController) handleTokenLoginResult(token string, rawErr *Error, result interface{}) {
	if rawErr != nil {
		switch {
		case rawErr.Err == "too-many-requests":
			resetMs := 0
			if rawErr.Details != nil {
				resetMs = detailsInt(rawErr.Details, "timeToReset")
			}
			a.emitLoginFailureWithLogout(rawErr, false)
			go func() {
				time.Sleep(time.Duration(resetMs)*time.Millisecond + 100*time.Millisecond)
				a.LoadInitialUser(false)
			}()
		case resumeRejectionErrors[rawErr.Err]:
			a.clearPersistedAuth()
			a.performLogoutSideEffects()
			rawErr.IsLogoutTriggered = true
			a.emitLoginFailureWithLogout(rawErr, true)
		default:
			a.emitLoginFailureWithLogout(rawErr, false)
			delay := a.retry.Next()
			go func() {
				time.Sleep(delay)
				a.LoginWithToken(token)
			}()
		}
		return
	}

	userID, expiresAt, resultToken, err := extractLoginResult(result)
	if err != nil || resultToken == "" {
		synthesized := &Error{Err: "token-expired", Reason: "missing token in login result", IsLogoutTriggered: true}
		a.clearPersistedAuth()
		a.performLogoutSideEffects()
		a.emitLoginFailureWithLogout(synthesized, true)
		return
	}

	a.persistAuth(userID, resultToken, expiresAt)
	a.mu.Lock()
	a.isLoggedIn = true
	a.mu.Unlock()
	if a.onLogin != nil {
		a.onLogin(userID)
	}
}

func (a *AuthController) handleLoginResult(rawErr *Error, result interface{}, cb func(err *Error)) {
	if rawErr != nil {
		a.emitLoginFailure(rawErr)
		if cb != nil {
			cb(rawErr)
		}
		return
	}

	userID, expiresAt, token, err := extractLoginResult(result)
	if err != nil {
		failure := &Error{Err: "malformed_result", Message: err.Error()}
		a.emitLoginFailure(failure)
		if cb != nil {
			cb(failure)
		}
		return
	}

	a.persistAuth(userID, token, expiresAt)
	a.mu.Lock()
	a.isLoggedIn = true
	a.mu.Unlock()
	if a.onLogin != nil {
		a.onLogin(userID)
	}
	if cb != nil {
		cb(nil)
	}
}

// Logout implements spec.md §4.9's logout.
func (a *AuthController) Logout(cb func(err *Error)) {
	a.mu.Lock()
	hadSession := a.isLoggedIn
	a.mu.Unlock()

	if !hadSession {
		if cb != nil {
			cb(nil)
		}
		return
	}

	a.mu.Lock()
	a.isLoggingOut = true
	a.mu.Unlock()

	_, err := a.conn.Call("logout", nil, func(rawErr *Error, result interface{}) {
		a.mu.Lock()
		a.isLoggingOut = false
		a.mu.Unlock()
		a.clearPersistedAuth()
		a.performLogoutSideEffects()
		if a.onLogout != nil {
			a.onLogout()
		}
		if cb != nil {
			cb(rawErr)
		}
	})
	if err != nil {
		a.mu.Lock()
		a.isLoggingOut = false
		a.mu.Unlock()
		if cb != nil {
			cb(&Error{Err: "send_failed", Message: err.Error()})
		}
	}
}

// LoadInitialUser implements spec.md §4.9's loadInitialUser: resets the
// retry timeout, seeds reactive state from persisted storage, then (unless
// skipLogin) resumes the persisted token.
func (a *AuthController) LoadInitialUser(skipLogin bool) {
	a.retry.Reset()

	token, _, _ := a.storage.GetItem(KeyLoginToken)
	userID, _, _ := a.storage.GetItem(KeyUserID)
	expiresRaw, hasExpires, _ := a.storage.GetItem(KeyLoginTokenExpires)

	a.mu.Lock()
	a.token = token
	a.userID = userID
	if hasExpires {
		if t, err := parseTokenExpiry(expiresRaw); err == nil {
			a.tokenExpires = t
		}
	}
	a.mu.Unlock()
	a.userIDDep.Changed()
	a.tokenExpiresDep.Changed()

	if !skipLogin {
		a.LoginWithToken(token)
	}
}

func (a *AuthController) persistAuth(userID, token string, expiresAt *time.Time) {
	a.mu.Lock()
	a.userID = userID
	a.token = token
	a.tokenExpires = expiresAt
	a.mu.Unlock()

	if err := a.storage.SetItem(KeyUserID, userID); err != nil {
		a.log.Warnf("auth: persist userId: %v", err)
	}
	if err := a.storage.SetItem(KeyLoginToken, token); err != nil {
		a.log.Warnf("auth: persist loginToken: %v", err)
	}
	expiresStr := ""
	if expiresAt != nil {
		expiresStr = expiresAt.UTC().Format(time.RFC3339Nano)
	}
	if err := a.storage.SetItem(KeyLoginTokenExpires, expiresStr); err != nil {
		a.log.Warnf("auth: persist loginTokenExpires: %v", err)
	}

	a.userIDDep.Changed()
	a.tokenExpiresDep.Changed()
}

func (a *AuthController) clearPersistedAuth() {
	for _, key := range []string{KeyLoginToken, KeyLoginTokenExpires, KeyUserID} {
		if err := a.storage.RemoveItem(key); err != nil {
			a.log.Warnf("auth: clear %s: %v", key, err)
		}
	}
}

func (a *AuthController) performLogoutSideEffects() {
	a.mu.Lock()
	a.isLoggedIn = false
	a.userID = ""
	a.token = ""
	a.tokenExpires = nil
	a.mu.Unlock()
	a.userIDDep.Changed()
	a.tokenExpiresDep.Changed()
}

func (a *AuthController) emitLoginFailure(err *Error) {
	if a.onLoginFailure != nil {
		a.onLoginFailure(err)
	}
}

func (a *AuthController) emitLoginFailureWithLogout(err *Error, isLogoutTriggered bool) {
	err.IsLogoutTriggered = isLogoutTriggered
	a.emitLoginFailure(err)
}

func detailsInt(details map[string]interface{}, key string) int {
	v, ok := details[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// extractLoginResult pulls {id, token, tokenExpires} out of a successful
// login method result.
func extractLoginResult(result interface{}) (userID string, expiresAt *time.Time, token string, err error) {
	m, ok := result.(map[string]interface{})
	if !ok {
		return "", nil, "", fmt.Errorf("auth: login result is not an object")
	}
	if v, ok := m["id"].(string); ok {
		userID = v
	}
	if v, ok := m["token"].(string); ok {
		token = v
	}
	if v, ok := m["tokenExpires"]; ok {
		expiresAt, _ = parseTokenExpiryValue(v)
	}
	return userID, expiresAt, token, nil
}

// parseTokenExpiry accepts the persisted ISO-8601 string shape.
func parseTokenExpiry(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseTokenExpiryValue accepts any of the shapes spec.md §4.9 names:
// time.Time, number (ms since epoch), ISO string, or {$date: n}.
func parseTokenExpiryValue(v interface{}) (*time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return &t, nil
	case float64:
		ms := int64(t)
		out := time.UnixMilli(ms).UTC()
		return &out, nil
	case string:
		if out, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return &out, nil
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			out := time.UnixMilli(ms).UTC()
			return &out, nil
		}
		return nil, fmt.Errorf("auth: unparseable tokenExpires string %q", t)
	case map[string]interface{}:
		if raw, ok := t["$date"]; ok {
			if n, ok := raw.(float64); ok {
				out := time.UnixMilli(int64(n)).UTC()
				return &out, nil
			}
		}
		return nil, fmt.Errorf("auth: unrecognized tokenExpires object")
	default:
		return nil, fmt.Errorf("auth: unrecognized tokenExpires type %T", v)
	}
}
