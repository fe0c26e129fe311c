package ingestion

import (
	"fmt"

	"github.com/google/uuid"

	"zyura/internal/command"
)

// ParseRawCommand converts a raw NATS message into a typed command. The
// wire format is the same JSON the engine writes into the command log, so
// decoding is shared with replay; this layer adds the wire-level checks
// the engine assumes have already happened.
func ParseRawCommand(raw RawCommand) (command.Command, error) {
	ct, err := command.ParseCommandType(raw.CommandType)
	if err != nil {
		return nil, err
	}

	cmd, err := command.Decode(ct, raw.Data)
	if err != nil {
		return nil, err
	}

	if err := validateWire(cmd); err != nil {
		return nil, fmt.Errorf("%s: %w", raw.CommandType, err)
	}
	return cmd, nil
}

func validateWire(cmd command.Command) error {
	if cmd.IdempotencyKey() == uuid.Nil.String() {
		return fmt.Errorf("missing command_id")
	}
	if cmd.Actor() == uuid.Nil {
		return fmt.Errorf("missing actor_id")
	}
	if cmd.CommandTimestamp() <= 0 {
		return fmt.Errorf("missing timestamp")
	}

	switch c := cmd.(type) {
	case *command.Initialize:
		if c.SettlementAsset == "" {
			return fmt.Errorf("missing settlement_asset")
		}
	case *command.AssignRole:
		if c.Role == "" {
			return fmt.Errorf("missing role")
		}
		if c.Holder == uuid.Nil {
			return fmt.Errorf("missing holder")
		}
	case *command.FundWallet:
		if c.Wallet == uuid.Nil {
			return fmt.Errorf("missing wallet")
		}
	case *command.PurchasePolicy:
		if c.FlightNumber == "" {
			return fmt.Errorf("missing flight_number")
		}
	case *command.ProcessPayout:
		if c.PolicyID == 0 {
			return fmt.Errorf("missing policy_id")
		}
		if c.OracleSource == "" {
			return fmt.Errorf("missing oracle_source")
		}
	case *command.ExpirePolicy:
		if c.PolicyID == 0 {
			return fmt.Errorf("missing policy_id")
		}
	case *command.WithdrawLiquidity:
		if c.Approver == uuid.Nil {
			return fmt.Errorf("missing approver")
		}
	}

	return nil
}
