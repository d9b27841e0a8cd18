package context

// Environment abstracts access to process environment variables, allowing
// tests to run with a controlled environment.
type Environment interface {
	Get(string) string
	Set(string, string) error
}
