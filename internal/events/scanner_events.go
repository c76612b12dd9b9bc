package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"credit-backend/internal/clients"
	"credit-backend/internal/services"
	"credit-backend/internal/utils"
)

// decodeScannerEvent parses a scanner envelope, keeping large integers exact
func decodeScannerEvent(data []byte) (*clients.ScannerEventNotification, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var event clients.ScannerEventNotification
	if err := dec.Decode(&event); err != nil {
		return nil, fmt.Errorf("invalid scanner event: %w", err)
	}
	if event.TxHash == "" {
		return nil, fmt.Errorf("scanner event %s without txHash", event.EventName)
	}
	return &event, nil
}

// ConvertScannerEventToDepositRecorded maps a DepositRecorded envelope to the ingestion input
func ConvertScannerEventToDepositRecorded(event *clients.ScannerEventNotification) (services.DepositRecordedEvent, error) {
	if event.EventName != clients.EventDepositRecorded {
		return services.DepositRecordedEvent{}, fmt.Errorf("expected %s, got %s", clients.EventDepositRecorded, event.EventName)
	}
	user, err := addressField(event.EventData, "user")
	if err != nil {
		return services.DepositRecordedEvent{}, err
	}
	token, err := addressField(event.EventData, "token")
	if err != nil {
		return services.DepositRecordedEvent{}, err
	}
	amount, err := bigIntField(event.EventData, "amount")
	if err != nil {
		return services.DepositRecordedEvent{}, err
	}
	vault, _ := addressField(event.EventData, "vaultAccount")
	if vault == "" {
		vault = event.ContractAddr
	}
	return services.DepositRecordedEvent{
		ChainID:      event.ChainID,
		VaultAccount: vault,
		User:         user,
		Token:        token,
		Amount:       amount,
		TxHash:       event.TxHash,
		LogIndex:     event.LogIndex,
		BlockNumber:  event.BlockNumber,
	}, nil
}

// ConvertScannerEventToWithdrawalRequested maps a WithdrawalRequested envelope to the processor input
func ConvertScannerEventToWithdrawalRequested(event *clients.ScannerEventNotification) (services.WithdrawalRequestedEvent, error) {
	if event.EventName != clients.EventWithdrawalRequested {
		return services.WithdrawalRequestedEvent{}, fmt.Errorf("expected %s, got %s", clients.EventWithdrawalRequested, event.EventName)
	}
	user, err := addressField(event.EventData, "user")
	if err != nil {
		return services.WithdrawalRequestedEvent{}, err
	}
	token, err := addressField(event.EventData, "token")
	if err != nil {
		return services.WithdrawalRequestedEvent{}, err
	}
	vault, _ := addressField(event.EventData, "vaultAccount")
	if vault == "" {
		vault = event.ContractAddr
	}
	return services.WithdrawalRequestedEvent{
		ChainID:      event.ChainID,
		VaultAccount: vault,
		User:         user,
		Token:        token,
	}, nil
}

func addressField(data map[string]interface{}, name string) (string, error) {
	raw, ok := data[name].(string)
	if !ok || !utils.IsEvmAddress(raw) {
		return "", fmt.Errorf("eventData.%s: missing or invalid address", name)
	}
	return raw, nil
}

func bigIntField(data map[string]interface{}, name string) (*big.Int, error) {
	var text string
	switch v := data[name].(type) {
	case json.Number:
		text = v.String()
	case string:
		text = v
	default:
		return nil, fmt.Errorf("eventData.%s: missing or not an integer", name)
	}

	value := new(big.Int)
	var ok bool
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		_, ok = value.SetString(text[2:], 16)
	} else {
		_, ok = value.SetString(text, 10)
	}
	if !ok {
		return nil, fmt.Errorf("eventData.%s: %q is not an integer", name, text)
	}
	return value, nil
}
