package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oscash/payhub/common"
	"github.com/stretchr/testify/assert"
)

func defineTestServer(t *testing.T, storeID string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/server/info", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token valid-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"version": "1.10.3", "supportUrl": "https://chat.btcpayserver.org/",
		})
	})
	mux.HandleFunc(
		fmt.Sprintf("/api/v1/stores/%s", storeID),
		func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "token valid-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id": storeID, "name": "unit-test-store", "defaultCurrency": "USD",
				"paymentMethods": []map[string]interface{}{
					{"paymentMethod": "BTC"},
					{"paymentMethod": "BTC-LightningNetwork"},
				},
			})
		},
	)
	mux.HandleFunc(
		fmt.Sprintf("/api/v1/stores/%s/invoices/", storeID),
		func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id": "INV1", "status": "Settled", "amount": "10.00",
				"currency": "USD", "confirmations": 3,
			})
		},
	)
	return httptest.NewServer(mux)
}

func TestBTCPayClientBasicCalls(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	storeID := uuid.New().String()
	testServer := defineTestServer(t, storeID)
	defer testServer.Close()

	uut, err := DefineClient(common.BTCPayConfig{
		DefaultServerURL: testServer.URL, CallTimeout: 5,
	})
	assert.Nil(err)

	account := AccountContext{
		UserID: uuid.New().String(), StoreID: storeID, APIKey: "valid-key",
	}
	ctxt := context.Background()

	// Case 0: server info
	{
		info, err := uut.GetServerInfo(ctxt, account)
		assert.Nil(err)
		assert.Equal("1.10.3", info.Version)
		assert.Equal(testServer.URL, info.URL)
	}

	// Case 1: store info
	{
		info, err := uut.GetStoreInfo(ctxt, account)
		assert.Nil(err)
		assert.Equal(storeID, info.ID)
		assert.True(info.OnChainEnabled)
		assert.True(info.LightningEnabled)
	}

	// Case 2: invoice lookup
	{
		invoice, err := uut.GetInvoice(ctxt, account, "INV1")
		assert.Nil(err)
		assert.Equal("Settled", invoice.Status)
		assert.Equal(3, invoice.Confirmations)
	}

	// Case 3: payment status derivation
	{
		status, err := uut.CheckPaymentStatus(ctxt, account, "INV1")
		assert.Nil(err)
		assert.True(status.Paid)
		assert.False(status.Expired)
	}

	// Case 4: full connection test
	{
		result, err := uut.TestConnection(ctxt, account)
		assert.Nil(err)
		assert.Equal(storeID, result.Store.ID)
		assert.NotEmpty(result.Server.Version)
	}
}

func TestBTCPayClientFailures(t *testing.T) {
	assert := assert.New(t)

	storeID := uuid.New().String()
	testServer := defineTestServer(t, storeID)
	defer testServer.Close()

	uut, err := DefineClient(common.BTCPayConfig{
		DefaultServerURL: testServer.URL, CallTimeout: 5,
	})
	assert.Nil(err)

	ctxt := context.Background()

	// Case 0: rejected API key
	{
		account := AccountContext{
			UserID: uuid.New().String(), StoreID: storeID, APIKey: "wrong-key",
		}
		_, err := uut.TestConnection(ctxt, account)
		assert.NotNil(err)
	}

	// Case 1: account context missing required fields
	{
		_, err := uut.TestConnection(ctxt, AccountContext{UserID: uuid.New().String()})
		assert.NotNil(err)
	}

	// Case 2: unreachable server
	{
		account := AccountContext{
			UserID:    uuid.New().String(),
			StoreID:   storeID,
			APIKey:    "valid-key",
			ServerURL: "http://127.0.0.1:1",
		}
		_, err := uut.GetServerInfo(ctxt, account)
		assert.NotNil(err)
	}
}
