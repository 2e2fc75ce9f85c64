package hub

import (
	"context"
	"fmt"
	"sync"

	"yankcord/internal/models"
	"yankcord/internal/persistence"
)

// fakePersistence is an in-memory stand-in for persistence.Service, just
// enough to drive the dispatcher scenarios spec §8 describes without a
// real database.
type fakePersistence struct {
	mu sync.Mutex

	identities map[string]models.Identity // token -> identity
	channels   map[string]models.Channel
	messages   map[string]*models.TextMessage
	threads    map[string]*models.DmThread
	dmMessages map[string]*models.DmMessage
	users      map[string]*models.User
	reads      map[string]string // userID+"/"+scopeID -> last read message id
	nextMsgID  int
	unreadDM   int

	topology persistence.TopologyListener
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		identities: make(map[string]models.Identity),
		channels:   make(map[string]models.Channel),
		messages:   make(map[string]*models.TextMessage),
		threads:    make(map[string]*models.DmThread),
		dmMessages: make(map[string]*models.DmMessage),
		users:      make(map[string]*models.User),
		reads:      make(map[string]string),
	}
}

func (f *fakePersistence) VerifyToken(ctx context.Context, token string) (models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.identities[token]
	if !ok {
		return models.Identity{}, persistence.ErrInvalid
	}
	return id, nil
}

func (f *fakePersistence) Login(ctx context.Context, username, password string) (string, models.Identity, error) {
	return "", models.Identity{}, persistence.ErrInvalid
}

func (f *fakePersistence) GetChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &ch, nil
}

func (f *fakePersistence) ListChannels(ctx context.Context) ([]models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (f *fakePersistence) ListVoiceChannelCodecConfigs(ctx context.Context) (map[string]models.OpusConfig, error) {
	return map[string]models.OpusConfig{}, nil
}

func (f *fakePersistence) SetTopologyListener(fn persistence.TopologyListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topology = fn
}

func (f *fakePersistence) InsertMessage(ctx context.Context, channelID, authorID, content string, attachments []models.MessageAttachment) (*models.TextMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	msg := &models.TextMessage{
		ID:        fmt.Sprintf("m%d", f.nextMsgID),
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
	}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakePersistence) UpdateMessage(ctx context.Context, messageID, callerID, newContent string) (*models.TextMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if msg.AuthorID != callerID {
		return nil, persistence.ErrForbidden
	}
	msg.Content = newContent
	return msg, nil
}

func (f *fakePersistence) DeleteMessage(ctx context.Context, messageID, callerID string, callerRole models.Role) (*models.TextMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if msg.AuthorID != callerID && callerRole != models.RoleAdmin && callerRole != models.RoleOperator {
		return nil, persistence.ErrForbidden
	}
	delete(f.messages, messageID)
	return msg, nil
}

func (f *fakePersistence) UpsertChannelRead(ctx context.Context, userID, channelID, lastReadMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[userID+"/"+channelID] = lastReadMessageID
	return nil
}

func (f *fakePersistence) GetOrCreateDMThread(ctx context.Context, userAID, userBID string) (*models.DmThread, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.threads {
		if (t.UserAID == userAID && t.UserBID == userBID) || (t.UserAID == userBID && t.UserBID == userAID) {
			return t, false, nil
		}
	}
	t := &models.DmThread{ID: fmt.Sprintf("t%d", len(f.threads)+1), UserAID: userAID, UserBID: userBID}
	f.threads[t.ID] = t
	return t, true, nil
}

func (f *fakePersistence) GetDMThread(ctx context.Context, threadID string) (*models.DmThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[threadID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return t, nil
}

func (f *fakePersistence) InsertDMMessage(ctx context.Context, threadID, authorID, content string, attachments []models.MessageAttachment) (*models.DmMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	msg := &models.DmMessage{ID: fmt.Sprintf("dm%d", f.nextMsgID), ThreadID: threadID, AuthorID: authorID, Content: content}
	f.dmMessages[msg.ID] = msg
	return msg, nil
}

func (f *fakePersistence) UpdateDMMessage(ctx context.Context, messageID, callerID, newContent string) (*models.DmMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.dmMessages[messageID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if msg.AuthorID != callerID {
		return nil, persistence.ErrForbidden
	}
	msg.Content = newContent
	return msg, nil
}

func (f *fakePersistence) DeleteDMMessage(ctx context.Context, messageID, callerID string) (*models.DmMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.dmMessages[messageID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if msg.AuthorID != callerID {
		return nil, persistence.ErrForbidden
	}
	delete(f.dmMessages, messageID)
	return msg, nil
}

func (f *fakePersistence) UpsertDMReadState(ctx context.Context, userID, threadID, lastReadMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[userID+"/"+threadID] = lastReadMessageID
	return nil
}

func (f *fakePersistence) CountUnreadDM(ctx context.Context, userID, threadID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unreadDM, nil
}

func (f *fakePersistence) GetUser(ctx context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return u, nil
}

func (f *fakePersistence) Ping() error { return nil }

func (f *fakePersistence) Close() error { return nil }

func (f *fakePersistence) addIdentity(token string, id models.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[token] = id
}

func (f *fakePersistence) addChannel(ch models.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[ch.ID] = ch
}

func (f *fakePersistence) addThread(t models.DmThread) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[t.ID] = &t
}

func (f *fakePersistence) addUser(u models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = &u
}

func (f *fakePersistence) lastRead(userID, scopeID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[userID+"/"+scopeID]
}
