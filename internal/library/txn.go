package library

import "context"

// Optimistic applies a local mutation before persisting it. When Persist
// fails, Revert runs and the error is returned; on success Commit runs.
type Optimistic struct {
	Apply   func()
	Persist func(ctx context.Context) error
	Revert  func(err error)
	Commit  func()
}

// Run executes the transaction.
func (o Optimistic) Run(ctx context.Context) error {
	if o.Apply != nil {
		o.Apply()
	}
	if err := o.Persist(ctx); err != nil {
		if o.Revert != nil {
			o.Revert(err)
		}
		return err
	}
	if o.Commit != nil {
		o.Commit()
	}
	return nil
}
