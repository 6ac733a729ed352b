package whatsmeow

import (
	"sync"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// MessageStore guarda as últimas mensagens enviadas para responder a pedidos
// de retry (reenvio) de outros dispositivos. Capacidade fixa, descarte FIFO.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string]*waE2E.Message
	order    []string
	maxSize  int
}

func NewMessageStore(maxSize int) *MessageStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MessageStore{
		messages: make(map[string]*waE2E.Message),
		order:    make([]string, 0, maxSize),
		maxSize:  maxSize,
	}
}

func key(chat types.JID, id string) string {
	return chat.ToNonAD().String() + "/" + id
}

func (s *MessageStore) Put(chat types.JID, id string, msg *waE2E.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(chat, id)
	if _, ok := s.messages[k]; ok {
		s.messages[k] = msg
		return
	}
	if len(s.order) >= s.maxSize {
		delete(s.messages, s.order[0])
		s.order = s.order[1:]
	}
	s.messages[k] = msg
	s.order = append(s.order, k)
}

// Get retorna nil quando a mensagem não está (mais) no store.
func (s *MessageStore) Get(chat types.JID, id string) *waE2E.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[key(chat, id)]
}

func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
