package clients

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	apperrors "credit-backend/internal/errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// LogChunkSize blocks per eth_getLogs query, inclusive of both ends
const LogChunkSize uint64 = 499

// DecodedEvent one contract log with its arguments decoded by name
type DecodedEvent struct {
	Name        string                 `json:"name"`
	Address     common.Address         `json:"address"`
	BlockNumber uint64                 `json:"block_number"`
	TxHash      common.Hash            `json:"tx_hash"`
	LogIndex    uint                   `json:"log_index"`
	Args        map[string]interface{} `json:"args"`
	Raw         types.Log              `json:"-"`
}

// UndecodableLog a log that matched the event signature but failed to decode
type UndecodableLog struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Err         error
}

// LogDecodeError lists the logs of one GetPastEvents call that could not be decoded
type LogDecodeError struct {
	Event string
	Logs  []UndecodableLog
}

func (e *LogDecodeError) Error() string {
	parts := make([]string, 0, len(e.Logs))
	for _, lg := range e.Logs {
		parts = append(parts, fmt.Sprintf("tx %s log %d (block %d): %v", lg.TxHash.Hex(), lg.LogIndex, lg.BlockNumber, lg.Err))
	}
	return fmt.Sprintf("%d undecodable %s log(s): %s", len(e.Logs), e.Event, strings.Join(parts, "; "))
}

func (e *LogDecodeError) Unwrap() error { return apperrors.ErrUndecodableLog }

// GetPastEvents fetches and decodes eventName logs in [fromBlock, toBlock]. A nil toBlock
// means the current head. topics filter the indexed arguments after the event signature.
// Results are in block and log order.
//
// Logs that fail to decode are reported through a *LogDecodeError returned together
// with every event that did decode; the caller decides whether to skip them.
func (g *ChainGateway) GetPastEvents(ctx context.Context, contract, abiJSON, eventName string, fromBlock uint64, toBlock *uint64, topics ...[]common.Hash) ([]DecodedEvent, error) {
	address, err := parseAddress(contract)
	if err != nil {
		return nil, err
	}
	parsed, err := g.abis.Get(abiJSON)
	if err != nil {
		return nil, err
	}
	event, ok := parsed.Events[eventName]
	if !ok {
		return nil, apperrors.ValidationError("event", fmt.Sprintf("%q not found in abi", eventName))
	}

	var end uint64
	if toBlock == nil {
		end, err = g.LatestBlock(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve latest block: %w", err)
		}
	} else {
		end = *toBlock
	}
	if fromBlock > end {
		return nil, fmt.Errorf("%w: from %d is after to %d", apperrors.ErrInvalidBlockRange, fromBlock, end)
	}

	filterTopics := append([][]common.Hash{{event.ID}}, topics...)

	var events []DecodedEvent
	var undecodable []UndecodableLog
	for start := fromBlock; start <= end; {
		chunkEnd := start + LogChunkSize - 1
		if chunkEnd > end || chunkEnd < start {
			chunkEnd = end
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(chunkEnd),
			Addresses: []common.Address{address},
			Topics:    filterTopics,
		}
		logs, err := withRetry(ctx, g, "filterLogs", func(ctx context.Context) ([]types.Log, error) {
			return g.backend.FilterLogs(ctx, query)
		})
		if err != nil {
			return nil, fmt.Errorf("get %s logs for blocks %d-%d: %w", eventName, start, chunkEnd, err)
		}

		sort.SliceStable(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})
		for _, lg := range logs {
			if lg.Removed || len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
				continue
			}
			decoded, err := decodeLog(parsed, event, lg)
			if err != nil {
				g.logger.WithFields(logrus.Fields{
					"event":    eventName,
					"tx_hash":  lg.TxHash.Hex(),
					"logIndex": lg.Index,
				}).WithError(err).Error("[ChainGateway] undecodable log")
				undecodable = append(undecodable, UndecodableLog{
					TxHash:      lg.TxHash,
					LogIndex:    lg.Index,
					BlockNumber: lg.BlockNumber,
					Err:         err,
				})
				continue
			}
			events = append(events, decoded)
		}

		if chunkEnd == end {
			break
		}
		start = chunkEnd + 1
	}

	g.logger.WithFields(logrus.Fields{
		"chain_id": g.chainID,
		"event":    eventName,
		"from":     fromBlock,
		"to":       end,
		"count":    len(events),
	}).Debug("[ChainGateway] fetched past events")
	if len(undecodable) > 0 {
		return events, &LogDecodeError{Event: eventName, Logs: undecodable}
	}
	return events, nil
}

func decodeLog(parsed *abi.ABI, event abi.Event, lg types.Log) (DecodedEvent, error) {
	args := make(map[string]interface{})
	if len(lg.Data) > 0 {
		if err := parsed.UnpackIntoMap(args, event.Name, lg.Data); err != nil {
			return DecodedEvent{}, err
		}
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(indexed) > 0 {
		if len(lg.Topics) < len(indexed)+1 {
			return DecodedEvent{}, fmt.Errorf("expected %d indexed topics, got %d", len(indexed), len(lg.Topics)-1)
		}
		if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
			return DecodedEvent{}, err
		}
	}

	return DecodedEvent{
		Name:        event.Name,
		Address:     lg.Address,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		Args:        args,
		Raw:         lg,
	}, nil
}
