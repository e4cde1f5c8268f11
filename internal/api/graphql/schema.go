package graphql

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// schemaSDL is the subgraph-compatible schema of the marketplace entities.
// BigInt values travel as decimal strings; timestamps are unix seconds.
const schemaSDL = `
scalar BigInt

enum OrderDirection {
  asc
  desc
}

enum Listing_orderBy {
  id
  createdAt
  price
  tokenId
}

enum Sale_orderBy {
  timestamp
  price
}

type Listing {
  id: ID!
  seller: String!
  tokenId: BigInt!
  price: BigInt!
  active: Boolean!
  createdAt: BigInt!
  txHash: String!
}

type Sale {
  id: ID!
  listingId: BigInt!
  buyer: String!
  seller: String!
  price: BigInt!
  tokenId: BigInt!
  timestamp: BigInt!
  txHash: String!
  blockNumber: BigInt!
}

type AgentOwnership {
  id: ID!
  owner: String!
  updatedAt: BigInt!
  blockNumber: BigInt!
}

type OwnershipTransfer {
  id: ID!
  tokenId: BigInt!
  from: String!
  to: String!
  timestamp: BigInt!
  txHash: String!
  blockNumber: BigInt!
}

input Listing_filter {
  active: Boolean
  seller: String
  tokenId: BigInt
}

input Sale_filter {
  listingId: BigInt
  buyer: String
  seller: String
  tokenId: BigInt
}

input AgentOwnership_filter {
  owner: String
}

input OwnershipTransfer_filter {
  tokenId: BigInt
  from: String
  to: String
}

type Query {
  listing(id: ID!): Listing
  listings(first: Int = 100, skip: Int = 0, where: Listing_filter, orderBy: Listing_orderBy, orderDirection: OrderDirection): [Listing!]!
  sale(id: ID!): Sale
  sales(first: Int = 100, skip: Int = 0, where: Sale_filter, orderBy: Sale_orderBy, orderDirection: OrderDirection): [Sale!]!
  agentOwnership(id: ID!): AgentOwnership
  agentOwnerships(first: Int = 100, skip: Int = 0, where: AgentOwnership_filter): [AgentOwnership!]!
  ownershipTransfers(first: Int = 100, skip: Int = 0, where: OwnershipTransfer_filter, orderDirection: OrderDirection): [OwnershipTransfer!]!
}
`

// LoadSchema parses the marketplace schema
func LoadSchema() (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: schemaSDL, BuiltIn: false})
	if err != nil {
		return nil, err
	}
	return schema, nil
}
