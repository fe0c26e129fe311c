package command

import (
	"encoding/json"
	"fmt"
)

// ParseCommandType maps the wire name back to the discriminator.
func ParseCommandType(name string) (CommandType, error) {
	switch name {
	case "Initialize":
		return CommandTypeInitialize, nil
	case "SetPauseStatus":
		return CommandTypeSetPauseStatus, nil
	case "CloseConfig":
		return CommandTypeCloseConfig, nil
	case "AssignRole":
		return CommandTypeAssignRole, nil
	case "CreateProduct":
		return CommandTypeCreateProduct, nil
	case "UpdateProduct":
		return CommandTypeUpdateProduct, nil
	case "FundWallet":
		return CommandTypeFundWallet, nil
	case "PurchasePolicy":
		return CommandTypePurchasePolicy, nil
	case "ProcessPayout":
		return CommandTypeProcessPayout, nil
	case "ExpirePolicy":
		return CommandTypeExpirePolicy, nil
	case "SweepExpired":
		return CommandTypeSweepExpired, nil
	case "DepositLiquidity":
		return CommandTypeDepositLiquidity, nil
	case "WithdrawLiquidity":
		return CommandTypeWithdrawLiquidity, nil
	default:
		return CommandTypeUnknown, fmt.Errorf("unknown command type %q", name)
	}
}

// Decode unmarshals a committed payload back into its typed command.
// Payloads are the JSON encoding of the command structs, so this is the
// inverse of what the engine writes into the envelope.
func Decode(ct CommandType, payload []byte) (Command, error) {
	var cmd Command
	switch ct {
	case CommandTypeInitialize:
		cmd = &Initialize{}
	case CommandTypeSetPauseStatus:
		cmd = &SetPauseStatus{}
	case CommandTypeCloseConfig:
		cmd = &CloseConfig{}
	case CommandTypeAssignRole:
		cmd = &AssignRole{}
	case CommandTypeCreateProduct:
		cmd = &CreateProduct{}
	case CommandTypeUpdateProduct:
		cmd = &UpdateProduct{}
	case CommandTypeFundWallet:
		cmd = &FundWallet{}
	case CommandTypePurchasePolicy:
		cmd = &PurchasePolicy{}
	case CommandTypeProcessPayout:
		cmd = &ProcessPayout{}
	case CommandTypeExpirePolicy:
		cmd = &ExpirePolicy{}
	case CommandTypeSweepExpired:
		cmd = &SweepExpired{}
	case CommandTypeDepositLiquidity:
		cmd = &DepositLiquidity{}
	case CommandTypeWithdrawLiquidity:
		cmd = &WithdrawLiquidity{}
	default:
		return nil, fmt.Errorf("cannot decode command type %d", ct)
	}

	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ct, err)
	}
	return cmd, nil
}
