package sponsor

import (
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/config"
)

// ErrUnknownContent is returned for a content type the contract does not offer.
var ErrUnknownContent = xerrors.New("unknown content type")

// FreeTrialPayload builds the call package::module::function(content, manager) where
// manager is the contract's shared subscription manager, passed mutably. An empty
// content selects the configured default.
func FreeTrialPayload(cfg config.ContractConf, content string) (types.ProgrammableTransaction, error) {
	if content == "" {
		content = cfg.DefaultContent
	}
	if content == "" && len(cfg.ContentTypes) > 0 {
		content = cfg.ContentTypes[0]
	}
	known := false
	for _, ct := range cfg.ContentTypes {
		if ct == content {
			known = true
			break
		}
	}
	if !known {
		return types.ProgrammableTransaction{}, xerrors.Errorf("%w: %q", ErrUnknownContent, content)
	}

	pkg, err := types.ParseObjectID(cfg.Package)
	if err != nil {
		return types.ProgrammableTransaction{}, xerrors.Errorf("contract package: %w", err)
	}
	manager, err := types.ParseObjectID(cfg.SubscriptionManager)
	if err != nil {
		return types.ProgrammableTransaction{}, xerrors.Errorf("subscription manager: %w", err)
	}

	b := types.NewPTBBuilder()
	arg := b.Pure(types.PureString(content))
	shared := b.SharedObject(manager, cfg.InitialSharedVersion, true)
	b.MoveCall(pkg, cfg.Module, cfg.Function, nil, []types.Argument{arg, shared})
	return b.Finish()
}
