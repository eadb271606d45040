package services

import (
	"context"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/store"
)

// PersonService handles directory operations on tracked persons. The sync
// pass creates persons implicitly; this service backs the explicit admin
// surface.
type PersonService struct {
	store store.Store
}

func NewPersonService(s store.Store) *PersonService { return &PersonService{store: s} }

func (s *PersonService) CreatePerson(ctx context.Context, p *model.Person) (*model.Person, error) {
	return s.store.Persons().Create(ctx, p)
}

func (s *PersonService) GetPerson(ctx context.Context, id int64) (*model.Person, error) {
	return s.store.Persons().Get(ctx, id)
}

func (s *PersonService) GetPersonByExternalID(ctx context.Context, externalID string) (*model.Person, error) {
	return s.store.Persons().GetByExternalID(ctx, externalID)
}

func (s *PersonService) ListPersons(ctx context.Context, req model.ListPersonsRequest) ([]*model.Person, int, error) {
	return s.store.Persons().List(ctx, req)
}

func (s *PersonService) UpdatePerson(ctx context.Context, id int64, req model.UpdatePersonRequest) (*model.Person, error) {
	return s.store.Persons().Update(ctx, id, req)
}

func (s *PersonService) DeletePerson(ctx context.Context, id int64) error {
	return s.store.Persons().Delete(ctx, id)
}
