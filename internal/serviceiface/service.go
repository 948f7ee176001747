package serviceiface

// Service is a long-running component managed by the app manager.
type Service interface {
	Name() string
	Start() error
	Stop() error
}
