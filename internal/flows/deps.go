package flows

// Deps groups flow dependency sets. The Gateway builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Authorize AuthorizeDeps
	Logout    LogoutDeps
}

// Identity is the user and session a caller declares in a request body.
type Identity struct {
	UserID    int64
	SessionID string
}
