package chain

// Contract fragments the relay touches. The contracts themselves live in a
// separate repo; only the two write calls, the mint event, and the supply
// counter matter here.
const gameLogABI = `[
  {
    "type": "function",
    "name": "recordResult",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "player", "type": "address"},
      {"name": "gameType", "type": "string"},
      {"name": "betAmount", "type": "uint256"},
      {"name": "payout", "type": "uint256"},
      {"name": "resultData", "type": "string"}
    ],
    "outputs": []
  }
]`

const gameNFTABI = `[
  {
    "type": "function",
    "name": "mintFor",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "to", "type": "address"},
      {"name": "tokenURI", "type": "string"}
    ],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "totalSupply",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "event",
    "name": "Transfer",
    "inputs": [
      {"name": "from", "type": "address", "indexed": true},
      {"name": "to", "type": "address", "indexed": true},
      {"name": "tokenId", "type": "uint256", "indexed": true}
    ],
    "anonymous": false
  }
]`
