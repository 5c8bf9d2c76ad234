package state

import (
	"errors"
	"fmt"
	"math/big"
	"slices"

	"PodLedger/internal/corelib"
	"PodLedger/internal/types"
)

// Utilities reads the state of objects from a view of the store, replaying
// their histories. A history that refers to a transaction without the
// expected updates yields an inconsistent store error.
type Utilities struct {
	view   View         // view is the state being read
	charge func() error // charge is called before every response read, may be nil
}

// NewUtilities creates utilities reading the given view.
func NewUtilities(view View) *Utilities {
	return &Utilities{view: view}
}

// Charging returns utilities that call charge before reading every
// response. An error of charge aborts the read.
func (u *Utilities) Charging(charge func() error) *Utilities {
	return &Utilities{view: u.view, charge: charge}
}

// View returns the view the utilities read.
func (u *Utilities) View() View {
	return u.view
}

// updatesAt returns the updates of the transaction at ref, which an object
// history refers to.
func (u *Utilities) updatesAt(ref types.TransactionReference) ([]types.Update, error) {
	if u.charge != nil {
		if err := u.charge(); err != nil {
			return nil, err
		}
	}

	resp, err := u.view.Response(ref)
	if err != nil {
		return nil, types.Inconsistent("history refers to %s: %v", ref, err)
	}

	updates := types.UpdatesOf(resp)
	if updates == nil {
		return nil, types.Inconsistent("history refers to %s, whose response has no updates", ref)
	}

	return updates, nil
}

// history returns the history of an object, failing for unknown objects.
func (u *Utilities) history(object types.StorageReference) ([]types.TransactionReference, error) {
	history, err := u.view.History(object)
	if err != nil {
		return nil, err
	}

	if len(history) == 0 {
		return nil, fmt.Errorf("object %s: %w", object, types.ErrNotFound)
	}

	return history, nil
}

// ClassTag returns the class tag of an object, found in the response of
// the transaction that created it.
func (u *Utilities) ClassTag(object types.StorageReference) (types.ClassTag, error) {
	resp, err := u.view.Response(object.Transaction)
	if err != nil {
		if errors.Is(err, types.ErrInternal) {
			return types.ClassTag{}, err
		}

		return types.ClassTag{}, fmt.Errorf("object %s: %w", object, types.ErrNotFound)
	}

	for _, up := range types.UpdatesOf(resp) {
		if up.Object == object && up.IsClassTag() {
			return *up.Tag, nil
		}
	}

	return types.ClassTag{}, fmt.Errorf("object %s: %w", object, types.ErrNotFound)
}

// ClassName returns the class of an object.
func (u *Utilities) ClassName(object types.StorageReference) (string, error) {
	tag, err := u.ClassTag(object)
	if err != nil {
		return "", err
	}

	return tag.Class, nil
}

// State returns the class tag and the current value of every field of an
// object, sorted.
func (u *Utilities) State(object types.StorageReference) ([]types.Update, error) {
	history, err := u.history(object)
	if err != nil {
		return nil, err
	}

	return u.replay(object, history, func(types.Update) bool { return true })
}

// EagerFields returns the current value of the eager fields of an object, sorted.
func (u *Utilities) EagerFields(object types.StorageReference) ([]types.Update, error) {
	history, err := u.history(object)
	if err != nil {
		return nil, err
	}

	return u.replay(object, history, types.Update.IsEager)
}

// replay scans a history newest first and keeps the first update of every
// property accepted by keep.
func (u *Utilities) replay(object types.StorageReference, history []types.TransactionReference, keep func(types.Update) bool) ([]types.Update, error) {
	seen := make(map[property]bool)
	var state []types.Update

	for _, ref := range history {
		updates, err := u.updatesAt(ref)
		if err != nil {
			return nil, err
		}

		for _, up := range updates {
			if up.Object != object || !keep(up) {
				continue
			}

			p := propertyOf(up)
			if !seen[p] {
				seen[p] = true
				state = append(state, up)
			}
		}
	}

	slices.SortFunc(state, types.CompareUpdates)

	return state, nil
}

// LastUpdateToField returns the most recent update of a field of an object.
func (u *Utilities) LastUpdateToField(object types.StorageReference, field types.FieldSignature) (types.Update, error) {
	history, err := u.history(object)
	if err != nil {
		return types.Update{}, err
	}

	for _, ref := range history {
		updates, err := u.updatesAt(ref)
		if err != nil {
			return types.Update{}, err
		}

		for _, up := range updates {
			if up.Object == object && !up.IsClassTag() && up.Field == field {
				return up, nil
			}
		}
	}

	return types.Update{}, types.Inconsistent("no update to %s found for %s", field, object)
}

// field returns the current value of a field of an object.
func (u *Utilities) field(object types.StorageReference, field types.FieldSignature) (types.Value, error) {
	up, err := u.LastUpdateToField(object, field)
	if err != nil {
		return nil, err
	}

	return up.Value, nil
}

func (u *Utilities) bigField(object types.StorageReference, field types.FieldSignature) (*big.Int, error) {
	v, err := u.field(object, field)
	if err != nil {
		return nil, err
	}

	switch n := v.(type) {
	case types.BigIntValue:
		return n.Int(), nil
	case types.NullValue:
		return new(big.Int), nil
	default:
		return nil, types.Inconsistent("%s of %s holds %s", field.Name, object, v)
	}
}

func (u *Utilities) referenceField(object types.StorageReference, field types.FieldSignature) (types.StorageReference, error) {
	v, err := u.field(object, field)
	if err != nil {
		return types.StorageReference{}, err
	}

	ref, ok := v.(types.StorageReference)
	if !ok {
		return types.StorageReference{}, types.Inconsistent("%s of %s holds %s", field.Name, object, v)
	}

	return ref, nil
}

// Balance returns the balance of a contract.
func (u *Utilities) Balance(contract types.StorageReference) (*big.Int, error) {
	return u.bigField(contract, corelib.BalanceField)
}

// Nonce returns the nonce of an account.
func (u *Utilities) Nonce(account types.StorageReference) (*big.Int, error) {
	return u.bigField(account, corelib.NonceField)
}

// CurrentSupply returns the coins in circulation, kept by the validators.
func (u *Utilities) CurrentSupply(validators types.StorageReference) (*big.Int, error) {
	return u.bigField(validators, corelib.CurrentSupplyField)
}

// PublicKey returns the base64 public key of an account.
func (u *Utilities) PublicKey(account types.StorageReference) (string, error) {
	v, err := u.field(account, corelib.PublicKeyField)
	if err != nil {
		return "", err
	}

	switch s := v.(type) {
	case types.StringValue:
		return string(s), nil
	case types.NullValue:
		return "", nil
	default:
		return "", types.Inconsistent("public key of %s holds %s", account, v)
	}
}

// Creator returns the object that created an event.
func (u *Utilities) Creator(event types.StorageReference) (types.StorageReference, error) {
	return u.referenceField(event, corelib.CreatorField)
}

// Manifest returns the manifest, if the node is initialized.
func (u *Utilities) Manifest() (types.StorageReference, bool, error) {
	return u.view.Manifest()
}

// Validators returns the validators object of the manifest.
func (u *Utilities) Validators() (types.StorageReference, bool, error) {
	return u.fromManifest(corelib.ValidatorsField)
}

// GasStation returns the gas station of the manifest.
func (u *Utilities) GasStation() (types.StorageReference, bool, error) {
	return u.fromManifest(corelib.GasStationField)
}

// Versions returns the versions object of the manifest.
func (u *Utilities) Versions() (types.StorageReference, bool, error) {
	return u.fromManifest(corelib.VersionsField)
}

// Gamete returns the gamete of the manifest.
func (u *Utilities) Gamete() (types.StorageReference, bool, error) {
	return u.fromManifest(corelib.GameteField)
}

func (u *Utilities) fromManifest(field types.FieldSignature) (types.StorageReference, bool, error) {
	manifest, ok, err := u.view.Manifest()
	if err != nil || !ok {
		return types.StorageReference{}, false, err
	}

	ref, err := u.referenceField(manifest, field)
	if err != nil {
		return types.StorageReference{}, false, err
	}

	return ref, true, nil
}

// CoreJar returns the jar that installed the class of the manifest, which
// is the classpath of the calls the node runs on its own behalf.
func (u *Utilities) CoreJar() (types.TransactionReference, bool, error) {
	manifest, ok, err := u.view.Manifest()
	if err != nil || !ok {
		return types.TransactionReference{}, false, err
	}

	tag, err := u.ClassTag(manifest)
	if err != nil {
		return types.TransactionReference{}, false, types.Inconsistent("class tag of the manifest: %v", err)
	}

	return tag.Jar, true, nil
}
