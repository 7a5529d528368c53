package utility

import "sync"

// KeyedMutex serializes work per key; unused keys are released
type KeyedMutex struct {
	mutex sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*keyedLock),
	}
}

// Lock blocks until the key is free and returns the unlock function
func (k *KeyedMutex) Lock(key string) func() {
	k.mutex.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mutex.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		k.mutex.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mutex.Unlock()
	}
}

func (k *KeyedMutex) size() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return len(k.locks)
}
