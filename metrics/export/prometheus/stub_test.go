package prometheus

import (
	"context"

	"github.com/MrEthical07/portalauth"
)

// stubGateway is an always-anonymous gateway.
type stubGateway struct{}

func (stubGateway) Name() string { return "stub" }
func (stubGateway) SignUp(context.Context, string, string, string) (*portalauth.Session, error) {
	return nil, portalauth.NewAuthError(portalauth.KindValidation, "", "sign-up disabled")
}
func (stubGateway) SignInWithPassword(context.Context, string, string) (*portalauth.Session, error) {
	return nil, portalauth.NewAuthError(portalauth.KindInvalidCredentials, "", "no accounts")
}
func (stubGateway) SignOut(context.Context) error { return nil }
func (stubGateway) GetCurrentSession(context.Context) (*portalauth.Session, error) {
	return nil, nil
}
func (stubGateway) OnSessionChange(portalauth.ProviderListener) portalauth.Unsubscribe {
	return func() {}
}
