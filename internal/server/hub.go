package server

import "sync"

// outbound is one frame queued for fanout. exclude suppresses delivery to one
// client, which is how call signals avoid echoing to their sender.
type outbound struct {
	payload []byte
	exclude *Client
}

// Hub keeps track of rooms by chat id and creates or removes them as needed.
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]*Room
}

// NewHub builds an empty hub ready to serve websocket requests.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// Exists returns true if a room for the given chat currently exists in memory.
func (hub *Hub) Exists(chatID string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.rooms[chatID]
	return ok
}

func (hub *Hub) getOrCreateRoom(chatID string) *Room {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[chatID]; exists {
		return room
	}
	room := newRoom(chatID)
	hub.rooms[chatID] = room
	go room.run()
	return room
}

func (hub *Hub) deleteRoomIfEmpty(chatID string) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[chatID]; exists {
		if room.size() == 0 {
			delete(hub.rooms, chatID)
		}
	}
}

// Room broadcasts events to all clients of one chat and handles membership
// changes.
type Room struct {
	chatID     string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	mutex      sync.RWMutex
}

func newRoom(chatID string) *Room {
	return &Room{
		chatID:     chatID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
	}
}

func (room *Room) size() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return len(room.clients)
}

func (room *Room) run() {
	for {
		select {
		case client := <-room.register:
			room.mutex.Lock()
			room.clients[client] = true
			room.mutex.Unlock()
		case client := <-room.unregister:
			room.mutex.Lock()
			if _, exists := room.clients[client]; exists {
				delete(room.clients, client)
				close(client.send)
			}
			room.mutex.Unlock()
		case out := <-room.broadcast:
			// Fan out to every connected client. A client whose send buffer
			// is full is dropped to keep the room healthy; writePump cleanup
			// follows from the closed channel.
			room.mutex.Lock()
			for client := range room.clients {
				if client == out.exclude {
					continue
				}
				select {
				case client.send <- out.payload:
				default:
					close(client.send)
					delete(room.clients, client)
				}
			}
			room.mutex.Unlock()
		}
	}
}

// send queues a frame for everyone in the room.
func (room *Room) send(payload []byte) {
	room.broadcast <- outbound{payload: payload}
}

// sendExcept queues a frame for everyone but the given client.
func (room *Room) sendExcept(payload []byte, except *Client) {
	room.broadcast <- outbound{payload: payload, exclude: except}
}
