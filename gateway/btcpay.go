package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/oscash/payhub/common"
)

// AccountContext the per-account data needed to operate the Greenfield API
// on behalf of one client
type AccountContext struct {
	// UserID is the client account identity
	UserID string `json:"userId" validate:"required"`
	// StoreID is the BTCPay store the account operates
	StoreID string `json:"storeId" validate:"required"`
	// APIKey is the Greenfield API key material
	APIKey string `json:"apiKey" validate:"required"`
	// ServerURL overrides the default BTCPay Server if set
	ServerURL string `json:"serverUrl,omitempty" validate:"omitempty,url"`
}

// ServerInfo condensed BTCPay Server information
type ServerInfo struct {
	Version    string `json:"version"`
	Network    string `json:"network,omitempty"`
	URL        string `json:"url"`
	SupportURL string `json:"supportUrl,omitempty"`
}

// StoreInfo condensed BTCPay store information
type StoreInfo struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Website           string `json:"website,omitempty"`
	DefaultCurrency   string `json:"defaultCurrency,omitempty"`
	InvoiceExpiration int    `json:"invoiceExpiration,omitempty"`
	LightningEnabled  bool   `json:"lightningEnabled"`
	OnChainEnabled    bool   `json:"onChainEnabled"`
}

// Invoice condensed BTCPay invoice information
type Invoice struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	CheckoutLink  string `json:"checkoutLink,omitempty"`
	Confirmations int    `json:"confirmations"`
}

// PaymentStatus point-in-time payment state of an invoice
type PaymentStatus struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Paid          bool   `json:"paid"`
	Expired       bool   `json:"expired"`
	Confirmations int    `json:"confirmations"`
}

// ConnectionTest result of verifying account credentials against the server
type ConnectionTest struct {
	Server ServerInfo `json:"server"`
	Store  StoreInfo  `json:"store"`
}

// Client operates the BTCPay Greenfield API on behalf of client accounts.
// Every call is bounded by the configured call timeout.
type Client interface {
	GetServerInfo(ctxt context.Context, account AccountContext) (ServerInfo, error)
	GetStoreInfo(ctxt context.Context, account AccountContext) (StoreInfo, error)
	GetInvoice(ctxt context.Context, account AccountContext, invoiceID string) (Invoice, error)
	CheckPaymentStatus(
		ctxt context.Context, account AccountContext, invoiceID string,
	) (PaymentStatus, error)
	TestConnection(ctxt context.Context, account AccountContext) (ConnectionTest, error)
}

// clientImpl implements Client
type clientImpl struct {
	common.Component
	httpClient       *http.Client
	defaultServerURL string
	callTimeout      time.Duration
	validate         *validator.Validate
}

// DefineClient create new BTCPay Greenfield API client
func DefineClient(btcpayConfig common.BTCPayConfig) (Client, error) {
	logTags := log.Fields{
		"module": "gateway", "component": "btcpay-client",
	}
	callTimeout := time.Second * time.Duration(btcpayConfig.CallTimeout)
	return &clientImpl{
		Component:        common.Component{LogTags: logTags},
		httpClient:       &http.Client{Timeout: callTimeout},
		defaultServerURL: btcpayConfig.DefaultServerURL,
		callTimeout:      callTimeout,
		validate:         validator.New(),
	}, nil
}

// serverBaseURL resolve the Greenfield API base URL for an account
func (c *clientImpl) serverBaseURL(account AccountContext) string {
	serverURL := account.ServerURL
	if serverURL == "" {
		serverURL = c.defaultServerURL
	}
	return fmt.Sprintf("%s/api/v1", strings.TrimRight(serverURL, "/"))
}

// apiGet perform one Greenfield API GET and decode the response into target
func (c *clientImpl) apiGet(
	ctxt context.Context, account AccountContext, path string, target interface{},
) error {
	useContext, cancel := context.WithTimeout(ctxt, c.callTimeout)
	defer cancel()

	endpoint := c.serverBaseURL(account) + path
	request, err := http.NewRequestWithContext(useContext, http.MethodGet, endpoint, nil)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to form request for %s", path)
		return err
	}
	request.Header.Set("Authorization", fmt.Sprintf("token %s", account.APIKey))
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Greenfield API call %s failed for store %s", path, account.StoreID,
		)
		return err
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		err := fmt.Errorf("greenfield API call %s returned status %d", path, response.StatusCode)
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Greenfield API call failed for store %s", account.StoreID,
		)
		return err
	}

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Unable to parse %s response for store %s", path, account.StoreID,
		)
		return err
	}
	return nil
}

// ----------------------------------------------------------------------------------------

// greenfieldServerInfo raw /server/info response
type greenfieldServerInfo struct {
	Version    string `json:"version"`
	SupportURL string `json:"supportUrl"`
	Network    string `json:"network"`
}

// GetServerInfo fetch BTCPay Server information
func (c *clientImpl) GetServerInfo(
	ctxt context.Context, account AccountContext,
) (ServerInfo, error) {
	var raw greenfieldServerInfo
	if err := c.apiGet(ctxt, account, "/server/info", &raw); err != nil {
		return ServerInfo{}, err
	}
	serverURL := account.ServerURL
	if serverURL == "" {
		serverURL = c.defaultServerURL
	}
	return ServerInfo{
		Version:    raw.Version,
		Network:    raw.Network,
		URL:        serverURL,
		SupportURL: raw.SupportURL,
	}, nil
}

// ----------------------------------------------------------------------------------------

// greenfieldStore raw /stores/{storeId} response
type greenfieldStore struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Website           string `json:"website"`
	DefaultCurrency   string `json:"defaultCurrency"`
	InvoiceExpiration int    `json:"invoiceExpiration"`
	PaymentMethods    []struct {
		PaymentMethod string `json:"paymentMethod"`
	} `json:"paymentMethods"`
}

// GetStoreInfo fetch information regarding the account's store
func (c *clientImpl) GetStoreInfo(
	ctxt context.Context, account AccountContext,
) (StoreInfo, error) {
	var raw greenfieldStore
	path := fmt.Sprintf("/stores/%s", account.StoreID)
	if err := c.apiGet(ctxt, account, path, &raw); err != nil {
		return StoreInfo{}, err
	}
	info := StoreInfo{
		ID:                raw.ID,
		Name:              raw.Name,
		Website:           raw.Website,
		DefaultCurrency:   raw.DefaultCurrency,
		InvoiceExpiration: raw.InvoiceExpiration,
	}
	for _, method := range raw.PaymentMethods {
		if strings.Contains(method.PaymentMethod, "LightningNetwork") {
			info.LightningEnabled = true
		}
		if strings.Contains(method.PaymentMethod, "BTC") {
			info.OnChainEnabled = true
		}
	}
	return info, nil
}

// ----------------------------------------------------------------------------------------

// greenfieldInvoice raw /stores/{storeId}/invoices/{invoiceId} response
type greenfieldInvoice struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CheckoutLink  string `json:"checkoutLink"`
	Confirmations int    `json:"confirmations"`
}

// GetInvoice fetch one invoice of the account's store
func (c *clientImpl) GetInvoice(
	ctxt context.Context, account AccountContext, invoiceID string,
) (Invoice, error) {
	var raw greenfieldInvoice
	path := fmt.Sprintf("/stores/%s/invoices/%s", account.StoreID, invoiceID)
	if err := c.apiGet(ctxt, account, path, &raw); err != nil {
		return Invoice{}, err
	}
	return Invoice{
		ID:            raw.ID,
		Status:        raw.Status,
		Amount:        raw.Amount,
		Currency:      raw.Currency,
		CheckoutLink:  raw.CheckoutLink,
		Confirmations: raw.Confirmations,
	}, nil
}

// CheckPaymentStatus fetch the point-in-time payment state of an invoice
func (c *clientImpl) CheckPaymentStatus(
	ctxt context.Context, account AccountContext, invoiceID string,
) (PaymentStatus, error) {
	invoice, err := c.GetInvoice(ctxt, account, invoiceID)
	if err != nil {
		return PaymentStatus{}, err
	}
	return PaymentStatus{
		ID:            invoice.ID,
		Status:        invoice.Status,
		Paid:          invoice.Status == "Settled" || invoice.Status == "Processing",
		Expired:       invoice.Status == "Expired",
		Confirmations: invoice.Confirmations,
	}, nil
}

// ----------------------------------------------------------------------------------------

// TestConnection verify the account credentials by fetching server and store
// information. Success doubles as credential verification during client
// authentication, with the results returned as the upstream snapshot.
func (c *clientImpl) TestConnection(
	ctxt context.Context, account AccountContext,
) (ConnectionTest, error) {
	if err := c.validate.Struct(&account); err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Account context is not valid")
		return ConnectionTest{}, err
	}
	serverInfo, err := c.GetServerInfo(ctxt, account)
	if err != nil {
		return ConnectionTest{}, err
	}
	storeInfo, err := c.GetStoreInfo(ctxt, account)
	if err != nil {
		return ConnectionTest{}, err
	}
	log.WithFields(c.LogTags).Debugf(
		"Verified store %s against server %s", account.StoreID, serverInfo.URL,
	)
	return ConnectionTest{Server: serverInfo, Store: storeInfo}, nil
}
