package device_manager

import (
	"fmt"
	"sync"

	"github.com/nhirsama/goster-zk/src/inter"
)

// terminalQueue 单台终端的待执行指令
type terminalQueue struct {
	mu    sync.Mutex
	items []inter.DownlinkMessage
}

// MessageQueue 每台终端一个有界 FIFO
// 校时与重启只保留最新的一条，开门指令按到达顺序全部保留
type MessageQueue struct {
	queues   sync.Map // map[string]*terminalQueue
	capacity int
}

func NewMessageQueue(cap int) inter.MessageQueue {
	if cap <= 0 {
		cap = 1
	}
	return &MessageQueue{
		capacity: cap,
	}
}

func (m *MessageQueue) queue(name string) *terminalQueue {
	actual, _ := m.queues.LoadOrStore(name, &terminalQueue{})
	return actual.(*terminalQueue)
}

func validate(message inter.DownlinkMessage) error {
	switch message.Kind {
	case inter.CommandUnlock:
		if message.Seconds <= 0 {
			return fmt.Errorf("开门时长无效: %d", message.Seconds)
		}
	case inter.CommandSetTime, inter.CommandRestart:
	default:
		return fmt.Errorf("未知指令 %d", message.Kind)
	}
	return nil
}

func (m *MessageQueue) Push(name string, message inter.DownlinkMessage) error {
	if err := validate(message); err != nil {
		return err
	}
	q := m.queue(name)
	q.mu.Lock()
	defer q.mu.Unlock()

	if message.Kind != inter.CommandUnlock {
		for i := range q.items {
			if q.items[i].Kind == message.Kind {
				q.items[i] = message
				return nil
			}
		}
	}
	// 队列满策略：丢弃最早的一条并压入新指令
	if len(q.items) >= m.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, message)
	return nil
}

// PushFront 队列中已有同类较新的校时或重启指令时丢弃 message，队列已满时同样丢弃
func (m *MessageQueue) PushFront(name string, message inter.DownlinkMessage) error {
	if err := validate(message); err != nil {
		return err
	}
	q := m.queue(name)
	q.mu.Lock()
	defer q.mu.Unlock()

	if message.Kind != inter.CommandUnlock {
		for i := range q.items {
			if q.items[i].Kind == message.Kind {
				return nil
			}
		}
	}
	if len(q.items) >= m.capacity {
		return nil
	}
	q.items = append([]inter.DownlinkMessage{message}, q.items...)
	return nil
}

func (m *MessageQueue) Pop(name string) (inter.DownlinkMessage, bool) {
	actual, exists := m.queues.Load(name)
	if !exists {
		return inter.DownlinkMessage{}, false
	}
	q := actual.(*terminalQueue)
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return inter.DownlinkMessage{}, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

func (m *MessageQueue) IsEmpty(name string) bool {
	actual, exists := m.queues.Load(name)
	if !exists {
		return true
	}
	q := actual.(*terminalQueue)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}
