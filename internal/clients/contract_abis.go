package clients

// CreditVaultABI the subset of the credit vault the backend calls and indexes
const CreditVaultABI = `[
  {"type":"event","name":"DepositRecorded","anonymous":false,"inputs":[
    {"name":"vaultAccount","type":"address","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"WithdrawalRequested","anonymous":false,"inputs":[
    {"name":"vaultAccount","type":"address","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":true}]},
  {"type":"function","name":"custody","stateMutability":"view","inputs":[
    {"name":"user","type":"address"},
    {"name":"token","type":"address"}],"outputs":[
    {"name":"userOwned","type":"uint256"},
    {"name":"escrow","type":"uint256"}]},
  {"type":"function","name":"recordWithdrawalRequest","stateMutability":"nonpayable","inputs":[
    {"name":"user","type":"address"},
    {"name":"token","type":"address"}],"outputs":[]}
]`

// Credit vault event names
const (
	EventDepositRecorded     = "DepositRecorded"
	EventWithdrawalRequested = "WithdrawalRequested"
)

// ChainlinkAggregatorABI AggregatorV3Interface reads used for USD prices
const ChainlinkAggregatorABI = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],"outputs":[
    {"name":"roundId","type":"uint80"},
    {"name":"answer","type":"int256"},
    {"name":"startedAt","type":"uint256"},
    {"name":"updatedAt","type":"uint256"},
    {"name":"answeredInRound","type":"uint80"}]}
]`
