package kafka

import (
	"github.com/IBM/sarama"
)

// NewProducer builds the synchronous producer the event journal writes
// through.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_0_0_0
	config.ClientID = "picttext-server"
	config.Producer.MaxMessageBytes = 1000000

	return sarama.NewSyncProducer(brokers, config)
}
