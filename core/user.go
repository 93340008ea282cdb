package core

type (
	// User describes an authenticated participant as reported by the
	// configured identity provider. Email doubles as the identity that
	// board ownership and invitations are keyed on.
	User struct {
		Subject   string `json:"subject"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatarUrl"`
		Name      string `json:"name"`
	}
)
