package state

import "PodLedger/internal/types"

// property identifies a field of an object, or its class tag.
type property struct {
	tag   bool                 // tag is set for the class tag
	field types.FieldSignature // field is the field, zero for the class tag
}

func propertyOf(u types.Update) property {
	if u.IsClassTag() {
		return property{tag: true}
	}

	return property{field: u.Field}
}

// updatesOfFunc returns the updates of the response at the given transaction.
type updatesOfFunc func(types.TransactionReference) ([]types.Update, error)

// simplify computes the new history of object after the transaction ref, that
// produced the updates in fresh. Entries of old that add no property beyond
// those already covered are dropped; the last entry of old is always kept
// since it holds the class tag.
func simplify(ref types.TransactionReference, object types.StorageReference, fresh []types.Update, old []types.TransactionReference, updatesOf updatesOfFunc) ([]types.TransactionReference, error) {
	covered := make(map[property]bool)
	for _, u := range fresh {
		if u.Object == object {
			covered[propertyOf(u)] = true
		}
	}

	result := make([]types.TransactionReference, 0, len(old)+1)
	result = append(result, ref)

	for i, h := range old {
		if i == len(old)-1 {
			result = append(result, h)
			break
		}

		updates, err := updatesOf(h)
		if err != nil {
			return nil, err
		}

		if addsCoverage(object, updates, covered) {
			result = append(result, h)
		}
	}

	return result, nil
}

// addsCoverage marks the properties of object set by updates as covered and
// reports whether any of them was new.
func addsCoverage(object types.StorageReference, updates []types.Update, covered map[property]bool) bool {
	added := false

	for _, u := range updates {
		if u.Object != object {
			continue
		}

		p := propertyOf(u)
		if !covered[p] {
			covered[p] = true
			added = true
		}
	}

	return added
}
