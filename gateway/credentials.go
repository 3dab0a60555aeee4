package gateway

import (
	"context"
	"errors"
	"fmt"

	"splitpay-api/models"

	"gorm.io/gorm"
)

// CredentialStore reads and writes sealed processor credentials
type CredentialStore struct {
	db     *gorm.DB
	sealer *Sealer
}

func NewCredentialStore(db *gorm.DB, sealer *Sealer) *CredentialStore {
	return &CredentialStore{db: db, sealer: sealer}
}

// Save stores a new active credential and deactivates the organization's previous ones
func (s *CredentialStore) Save(ctx context.Context, orgID uint, processor models.ProcessorType, accessToken, publicKey string) (*models.ProcessorCredential, error) {
	sealed, err := s.sealer.Seal(accessToken)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	cred := models.ProcessorCredential{
		OrganizationID:    orgID,
		Processor:         processor,
		AccessTokenSealed: sealed,
		PublicKey:         publicKey,
		Active:            true,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ProcessorCredential{}).
			Where("organization_id = ? AND active = ?", orgID, true).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(&cred).Error
	})
	if err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	return &cred, nil
}

// Active returns every active credential, newest first
func (s *CredentialStore) Active(ctx context.Context) ([]models.ProcessorCredential, error) {
	var creds []models.ProcessorCredential
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id desc").
		Find(&creds).Error
	return creds, err
}

// ForOrganization returns the organization's active credential, opened
func (s *CredentialStore) ForOrganization(ctx context.Context, orgID uint) (Credential, error) {
	var cred models.ProcessorCredential
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND active = ?", orgID, true).
		Order("id desc").
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, ErrNoCredential
	}
	if err != nil {
		return Credential{}, fmt.Errorf("load credential for organization %d: %w", orgID, err)
	}
	return s.Open(cred)
}

// Open decrypts a stored credential
func (s *CredentialStore) Open(m models.ProcessorCredential) (Credential, error) {
	token, err := s.sealer.Open(m.AccessTokenSealed)
	if err != nil {
		return Credential{}, fmt.Errorf("credential %d: %w", m.ID, err)
	}
	return Credential{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Processor:      m.Processor,
		AccessToken:    token,
		PublicKey:      m.PublicKey,
	}, nil
}
