// Package recipients turns a broadcast's targeting rule into the concrete
// list of employees that will be messaged.
package recipients

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pulsewire/internal/domain"
)

// EmployeeSource lists the active employees of one organization.
type EmployeeSource interface {
	ListActiveEmployees(ctx context.Context, orgID string) ([]domain.Employee, error)
}

// Resolution is the eligible set plus the number of matched employees that
// were dropped for lacking a contact address.
type Resolution struct {
	Recipients     []domain.Employee
	MissingContact int
}

type Resolver struct {
	src EmployeeSource
}

func New(src EmployeeSource) *Resolver {
	return &Resolver{src: src}
}

// Resolve applies t inside orgID. It fails with domain.ErrNoEligibleRecipients
// when nothing matches and with domain.ErrNoValidContacts when every match
// lacks a contact address.
func (r *Resolver) Resolve(ctx context.Context, orgID string, t domain.Targeting) (Resolution, error) {
	match, err := matcher(t)
	if err != nil {
		return Resolution{}, err
	}

	all, err := r.src.ListActiveEmployees(ctx, orgID)
	if err != nil {
		return Resolution{}, fmt.Errorf("list employees: %w", err)
	}

	var (
		matched int
		out     Resolution
	)
	for _, e := range all {
		if !e.Active || e.OrganizationID != orgID || !match(e) {
			continue
		}
		matched++
		if !e.HasContact() {
			out.MissingContact++
			continue
		}
		out.Recipients = append(out.Recipients, e)
	}

	if matched == 0 {
		return out, fmt.Errorf("%w: organization %s, mode %s", domain.ErrNoEligibleRecipients, orgID, t.Mode)
	}
	if len(out.Recipients) == 0 {
		return out, fmt.Errorf("%w: %d matched employees have no phone", domain.ErrNoValidContacts, out.MissingContact)
	}

	sort.SliceStable(out.Recipients, func(i, j int) bool {
		a, b := out.Recipients[i], out.Recipients[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return out, nil
}

func matcher(t domain.Targeting) (func(domain.Employee) bool, error) {
	switch t.Mode {
	case domain.TargetAll:
		return func(domain.Employee) bool { return true }, nil
	case domain.TargetDepartment:
		set := make(map[string]struct{}, len(t.Departments))
		for _, d := range t.Departments {
			if d = normDept(d); d != "" {
				set[d] = struct{}{}
			}
		}
		return func(e domain.Employee) bool {
			_, ok := set[normDept(e.Department)]
			return ok
		}, nil
	case domain.TargetSpecific:
		set := make(map[string]struct{}, len(t.EmployeeIDs))
		for _, id := range t.EmployeeIDs {
			if id = strings.TrimSpace(id); id != "" {
				set[id] = struct{}{}
			}
		}
		return func(e domain.Employee) bool {
			_, ok := set[e.ID]
			return ok
		}, nil
	default:
		return nil, fmt.Errorf("unknown targeting mode %q", t.Mode)
	}
}

func normDept(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
