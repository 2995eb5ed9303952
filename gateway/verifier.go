package gateway

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/oscash/payhub/common"
)

// CredentialVerifier validates a client's bearer credential by exercising it
// against the upstream BTCPay Server, returning the resolved account identity
// and the upstream snapshot gathered during the check.
type CredentialVerifier interface {
	VerifyCredential(
		ctxt context.Context, credential string, account AccountContext,
	) (string, ConnectionTest, error)
}

// verifierImpl implements CredentialVerifier using the Greenfield connection test
type verifierImpl struct {
	common.Component
	client Client
}

// DefineCredentialVerifier create a credential verifier backed by a
// Greenfield API client
func DefineCredentialVerifier(client Client) (CredentialVerifier, error) {
	logTags := log.Fields{
		"module": "gateway", "component": "credential-verifier",
	}
	return &verifierImpl{
		Component: common.Component{LogTags: logTags},
		client:    client,
	}, nil
}

// VerifyCredential verify the credential by performing a full upstream
// connection test with it. A credential supplied without explicit key
// material in the account context is itself the API key.
func (v *verifierImpl) VerifyCredential(
	ctxt context.Context, credential string, account AccountContext,
) (string, ConnectionTest, error) {
	if account.APIKey == "" {
		account.APIKey = credential
	}
	if account.UserID == "" || account.StoreID == "" {
		err := fmt.Errorf("account context missing required credentials")
		log.WithError(err).WithFields(v.LogTags).Info("Rejecting malformed credential")
		return "", ConnectionTest{}, err
	}
	result, err := v.client.TestConnection(ctxt, account)
	if err != nil {
		log.WithError(err).WithFields(v.LogTags).Infof(
			"Upstream rejected credentials for store %s", account.StoreID,
		)
		return "", ConnectionTest{}, err
	}
	return account.UserID, result, nil
}
