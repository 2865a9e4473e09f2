package subscribers

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/models"
)

type subscriberDoc struct {
	ID       bson.ObjectID `bson:"_id"`
	Email    string        `bson:"email"`
	Password string        `bson:"password"`
	Status   int           `bson:"status"`
	ExpDate  bson.DateTime `bson:"exp_date"`
	Devices  []deviceDoc   `bson:"devices"`
}

type deviceDoc struct {
	ID     bson.ObjectID `bson:"_id"`
	Name   string        `bson:"name"`
	Status int           `bson:"status"`
}

func decodeSubscriber(raw bson.Raw) (subscriberDoc, error) {
	var doc subscriberDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("decode subscriber: %w", err)
	}
	return doc, nil
}

func checkStatus(status int) error {
	switch status {
	case models.SubscriberActive:
		return nil
	case models.SubscriberDeleted:
		return ErrUserRemoved
	default:
		return ErrUserNotActive
	}
}

// Activate verifies credentials and returns the devices that have not been activated yet.
func (m *Manager) Activate(ctx context.Context, login models.LoginInfo) ([]models.Device, error) {
	if !login.IsValid() {
		return nil, ErrInvalidInput
	}
	db, err := m.db()
	if err != nil {
		return nil, err
	}
	raw, err := db.FindSubscriberByEmail(ctx, login.Login)
	if err != nil {
		return nil, storeErr("Activate", err, ErrUserNotFound)
	}
	doc, err := decodeSubscriber(raw)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(doc.Status); err != nil {
		return nil, err
	}
	if doc.Password != login.Password {
		return nil, ErrInvalidPassword
	}

	var devices []models.Device
	for _, d := range doc.Devices {
		if d.Status != models.DeviceNotActive || d.Name == "" {
			continue
		}
		devices = append(devices, models.Device{ID: d.ID.Hex(), Name: d.Name, Status: d.Status})
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

// Login authenticates a subscriber application by email, password and
// device. A device already used by another registered session of the same
// user is rejected.
func (m *Manager) Login(ctx context.Context, auth models.AuthInfo) (models.Claim, error) {
	claim, err := m.login(ctx, auth)
	m.metrics.Login(loginResult(err))
	return claim, err
}

func (m *Manager) login(ctx context.Context, auth models.AuthInfo) (models.Claim, error) {
	if !auth.IsValid() {
		return models.Claim{}, ErrInvalidInput
	}
	db, err := m.db()
	if err != nil {
		return models.Claim{}, err
	}
	raw, err := db.FindSubscriberByEmail(ctx, auth.Login)
	if err != nil {
		return models.Claim{}, storeErr("Login", err, ErrUserNotFound)
	}
	doc, err := decodeSubscriber(raw)
	if err != nil {
		return models.Claim{}, err
	}
	claim := models.Claim{AuthInfo: auth, UserID: doc.ID.Hex(), ExpiresAt: int64(doc.ExpDate)}
	if err := m.validateLogin(ctx, doc, claim); err != nil {
		return models.Claim{}, err
	}
	return claim, nil
}

// LoginByID authenticates an HTTP playback request by user id. It applies
// the same checks as Login, including the per-device session limit.
func (m *Manager) LoginByID(ctx context.Context, userID, password, deviceID string) (models.Claim, error) {
	claim, err := m.loginByID(ctx, userID, password, deviceID)
	m.metrics.Login(loginResult(err))
	return claim, err
}

func (m *Manager) loginByID(ctx context.Context, userID, password, deviceID string) (models.Claim, error) {
	if password == "" || deviceID == "" {
		return models.Claim{}, ErrInvalidInput
	}
	uid, err := parseUserID(userID)
	if err != nil {
		return models.Claim{}, err
	}
	db, err := m.db()
	if err != nil {
		return models.Claim{}, err
	}
	raw, err := db.FindSubscriberByID(ctx, uid)
	if err != nil {
		return models.Claim{}, storeErr("LoginByID", err, ErrUserNotFound)
	}
	doc, err := decodeSubscriber(raw)
	if err != nil {
		return models.Claim{}, err
	}
	claim := models.Claim{
		AuthInfo: models.AuthInfo{
			LoginInfo: models.LoginInfo{Login: doc.Email, Password: password},
			DeviceID:  deviceID,
		},
		UserID:    uid.Hex(),
		ExpiresAt: int64(doc.ExpDate),
	}
	if err := m.validateLogin(ctx, doc, claim); err != nil {
		return models.Claim{}, err
	}
	return claim, nil
}

// validateLogin runs the checks shared by both login paths in order:
// status, password, expiry, then the device list. The device limit counts
// registered sessions of every transport.
func (m *Manager) validateLogin(ctx context.Context, doc subscriberDoc, claim models.Claim) error {
	if err := checkStatus(doc.Status); err != nil {
		return err
	}
	if doc.Password != claim.Password {
		return ErrInvalidPassword
	}
	if m.now().UnixMilli() > claim.ExpiresAt {
		return ErrAccountExpired
	}
	if len(doc.Devices) == 0 {
		return ErrNoDevices
	}

	for _, d := range doc.Devices {
		if d.ID.Hex() != claim.DeviceID {
			continue
		}
		if d.Status == models.DeviceBanned {
			return ErrDeviceBanned
		}
		if m.registry.DeviceInUse(claim.UserID, claim.DeviceID) {
			return ErrDeviceLimitReached
		}
		if d.Status == models.DeviceNotActive {
			if err := m.store.ActivateDevice(ctx, doc.ID, d.ID); err != nil {
				m.log.WithError(err).WithField("device_id", claim.DeviceID).Warn("activate device failed")
			}
		}
		return nil
	}
	return ErrDeviceNotFound
}

func loginResult(err error) string {
	switch err {
	case nil:
		return "ok"
	case ErrInvalidPassword:
		return "invalid_password"
	case ErrAccountExpired:
		return "expired"
	case ErrUserNotFound:
		return "user_not_found"
	case ErrDeviceNotFound, ErrDeviceBanned, ErrDeviceLimitReached, ErrNoDevices:
		return "device_rejected"
	default:
		return "error"
	}
}
