package eventlogger

import (
	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
)

// Enrich builds the record sent to the remote sink.
//
// Fields are merged in this order, later sources overwriting earlier ones:
// caller parameters, global parameters, user id and email (when
// IncludeUserInfo is set), then level name, event name and a server-assigned
// timestamp marker. The caller's map is never modified.
func Enrich(event *entity.Event, cfg Config, identity port.IdentityProvider) *entity.Record {
	fields := event.Parameters()
	for k, v := range cfg.globalParameters {
		fields[k] = v
	}
	if cfg.IncludeUserInfo() {
		id, email := resolveIdentity(identity)
		fields[entity.FieldUserID] = id
		fields[entity.FieldEmail] = email
	}
	fields[entity.FieldLevel] = event.Level().String()
	fields[entity.FieldEventName] = event.Name()
	fields[entity.FieldTimestamp] = entity.ServerTimestamp{}

	return entity.NewRecord(event.Name(), event.Level(), fields)
}

// resolveIdentity never panics: a nil or misbehaving provider reads as uninitialized.
func resolveIdentity(identity port.IdentityProvider) (id, email string) {
	id, email = port.IdentityUninitialized, port.IdentityUninitialized
	if identity == nil {
		return id, email
	}
	defer func() {
		if r := recover(); r != nil {
			id, email = port.IdentityUninitialized, port.IdentityUninitialized
		}
	}()
	return identity.CurrentUserID(), identity.CurrentUserEmail()
}
