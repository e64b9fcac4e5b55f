package constants

// Route constants shared by the router, the controllers and the redirect URI
// registered with each provider.
const (
	ConnectRoute = "/connect"
	// ResumeRoute finishes a callback that arrived after the session expired.
	ResumeRoute    = ConnectRoute + "/resume"
	CallbackSuffix = "/callback"
)

// CallbackPath is the path part of a provider's redirect URI.
func CallbackPath(provider string) string {
	return ConnectRoute + "/" + provider + CallbackSuffix
}
