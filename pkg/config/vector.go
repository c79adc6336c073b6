package config

import "fmt"

// Vector store types.
const (
	VectorChromem  = "chromem"
	VectorQdrant   = "qdrant"
	VectorPinecone = "pinecone"
)

// VectorConfig selects the similarity index backing the knowledge base.
type VectorConfig struct {
	Type       string         `yaml:"type"`
	Collection string         `yaml:"collection"`
	Chromem    ChromemConfig  `yaml:"chromem"`
	Qdrant     QdrantConfig   `yaml:"qdrant"`
	Pinecone   PineconeConfig `yaml:"pinecone"`
}

// ChromemConfig is the embedded store. An empty PersistPath keeps the
// index in memory.
type ChromemConfig struct {
	PersistPath string `yaml:"persist_path"`
	Compress    bool   `yaml:"compress"`
}

type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

type PineconeConfig struct {
	APIKey    string `yaml:"api_key"`
	Host      string `yaml:"host"`
	IndexName string `yaml:"index_name"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = VectorChromem
	}
	if c.Collection == "" {
		c.Collection = "msme_knowledge"
	}
	if c.Type == VectorQdrant {
		if c.Qdrant.Host == "" {
			c.Qdrant.Host = "localhost"
		}
		if c.Qdrant.Port == 0 {
			c.Qdrant.Port = 6334
		}
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Type {
	case VectorChromem:
	case VectorQdrant:
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant.host is required")
		}
	case VectorPinecone:
		if c.Pinecone.APIKey == "" {
			return fmt.Errorf("pinecone.api_key is required")
		}
		if c.Pinecone.Host == "" && c.Pinecone.IndexName == "" {
			return fmt.Errorf("pinecone.host or pinecone.index_name is required")
		}
	default:
		return fmt.Errorf("invalid type %q (valid: chromem, qdrant, pinecone)", c.Type)
	}
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	return nil
}
