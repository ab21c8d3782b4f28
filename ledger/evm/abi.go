package evm

// GameAssetABI is the subset of the GameAsset contract the gateway calls
const GameAssetABI = `[
	{
		"type": "function",
		"name": "createAsset",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "name", "type": "string"},
			{"name": "category", "type": "string"},
			{"name": "rarity", "type": "uint8"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "transferAsset",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "assetId", "type": "uint256"},
			{"name": "to", "type": "address"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "assets",
		"stateMutability": "view",
		"inputs": [{"name": "", "type": "uint256"}],
		"outputs": [
			{"name": "id", "type": "uint256"},
			{"name": "name", "type": "string"},
			{"name": "category", "type": "string"},
			{"name": "rarity", "type": "uint8"},
			{"name": "owner", "type": "address"},
			{"name": "createdAt", "type": "uint256"},
			{"name": "isTransferable", "type": "bool"}
		]
	},
	{
		"type": "function",
		"name": "getAssetsByOwner",
		"stateMutability": "view",
		"inputs": [{"name": "owner", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256[]"}]
	},
	{
		"type": "event",
		"name": "AssetCreated",
		"anonymous": false,
		"inputs": [
			{"name": "id", "type": "uint256", "indexed": true},
			{"name": "owner", "type": "address", "indexed": true},
			{"name": "name", "type": "string", "indexed": false},
			{"name": "category", "type": "string", "indexed": false},
			{"name": "rarity", "type": "uint8", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "AssetTransferred",
		"anonymous": false,
		"inputs": [
			{"name": "id", "type": "uint256", "indexed": true},
			{"name": "from", "type": "address", "indexed": true},
			{"name": "to", "type": "address", "indexed": true}
		]
	},
	{
		"type": "error",
		"name": "InvalidRarity",
		"inputs": []
	}
]`

// Contract method and event names
const (
	MethodCreateAsset      = "createAsset"
	MethodTransferAsset    = "transferAsset"
	MethodAssets           = "assets"
	MethodGetAssetsByOwner = "getAssetsByOwner"

	EventAssetCreated     = "AssetCreated"
	EventAssetTransferred = "AssetTransferred"
)

// TxStatusSuccess is the receipt status of a successful transaction
const TxStatusSuccess = 1
