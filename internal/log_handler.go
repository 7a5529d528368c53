package internal

type LogHandler interface {
	FeatureEvent(feature, id, text string)
	Debug(text string)
	Warn(text string)
	Error(text string, err error)
	RawDataEvent(direction, data string)
}

// LogWriter persists feature log records
type LogWriter interface {
	WriteLogMessage(message *FeatureLogMessage) error
}
