package subgraph

// Collection queries take $first, $skip, $orderBy and $orderDirection.
const (
	GET_RENTALS = `query GetRentals($first: Int!, $skip: Int!, $orderBy: String, $orderDirection: String) {
  rentals(first: $first, skip: $skip, orderBy: $orderBy, orderDirection: $orderDirection) {
    id
    nftContract
    tokenId
    name
    category
    owner
    renter
    status
    pricePerHour
    totalPrice
    duration
    startTime
    endTime
    createdAt
  }
}`

	GET_RECENT_RENTALS = `query GetRecentRentals($first: Int!) {
  rentals(first: $first, orderBy: createdAt, orderDirection: desc) {
    id
    nftContract
    tokenId
    name
    category
    owner
    renter
    status
    pricePerHour
    totalPrice
    duration
    startTime
    endTime
    createdAt
  }
}`

	GET_RENTAL_STATISTICS = `query GetRentalStatistics {
  rentalStatistics(id: "global") {
    totalRentals
    activeRentals
    totalVolume
    averageDuration
    uniqueRenters
  }
}`

	GET_ALL_PROPOSALS = `query GetAllProposals($first: Int!, $skip: Int!, $orderBy: String, $orderDirection: String) {
  proposals(first: $first, skip: $skip, orderBy: $orderBy, orderDirection: $orderDirection) {
    id
    proposalId
    title
    description
    proposer
    category
    status
    yesVotes
    noVotes
    startTime
    endTime
    createdAt
    executed
  }
}`

	GET_DAO_STATS = `query GetDAOStats {
  daoStats(id: "global") {
    totalProposals
    activeProposals
    totalVoters
    totalVotingPower
  }
}`

	GET_ACTIVITY_FEED = `query GetActivityFeed($first: Int!, $skip: Int!, $orderBy: String, $orderDirection: String) {
  activities(first: $first, skip: $skip, orderBy: $orderBy, orderDirection: $orderDirection) {
    id
    type
    user
    description
    amount
    timestamp
  }
}`
)

// Subscription documents. Only the query text is kept here.
const (
	PROPOSAL_CREATED = `subscription OnProposalCreated {
  proposals(first: 1, orderBy: createdAt, orderDirection: desc) {
    id
    proposalId
    title
    proposer
    createdAt
  }
}`

	VOTE_CAST = `subscription OnVoteCast {
  votes(first: 1, orderBy: timestamp, orderDirection: desc) {
    id
    proposalId
    voter
    support
    weight
    timestamp
  }
}`

	PROPOSAL_EXECUTED = `subscription OnProposalExecuted {
  proposals(first: 1, where: { executed: true }, orderBy: executedAt, orderDirection: desc) {
    id
    proposalId
    executedAt
  }
}`
)
