package netmux

type Config struct {
	MaxThroughput    int
	SchedulerWorkers int
	SchedulerQueue   int
}

func NewConfig(throughput, workers, queue int) *Config {
	return &Config{
		MaxThroughput:    throughput,
		SchedulerWorkers: workers,
		SchedulerQueue:   queue,
	}
}

func DefaultConfig() *Config {
	return NewConfig(300, 4, 1024)
}
