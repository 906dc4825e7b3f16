package cache

import "fmt"

// OAuthStateKey holds a pending OAuth authorization, keyed by its state value.
func OAuthStateKey(state string) string {
	return fmt.Sprintf("oauth:state:%s", state)
}

// RateLimitKey counts requests for one caller in the current window.
func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}
